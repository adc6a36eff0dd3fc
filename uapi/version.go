package uapi

//go:generate go -C .. run capkern/cmd/sysgen
