package middleware

import "github.com/aretw0/arbor/pkg/ports"

// Middleware wraps a CheckpointSaver to add behavior.
type Middleware func(ports.CheckpointSaver) ports.CheckpointSaver
