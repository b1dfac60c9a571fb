package arbor

// Version is the release of the arbor module. Release builds override it with
// -ldflags "-X github.com/aretw0/arbor.Version=...".
var Version = "0.3.0"
