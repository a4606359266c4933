package exfat

// Version is this library's release version, reported by every CLI tool's
// -V flag. Numbered the way original_source/trunk/libexfat/exfat.h's
// EXFAT_VERSION_MAJOR/MINOR constants are (0.5), plus a patch component
// this port tracks on its own.
const Version = "0.5.0"
