package loader

import "runtime"

// SystemLibraryPrefix returns the filename prefix shared libraries
// carry on this platform.
func SystemLibraryPrefix() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "lib"
}

// SystemLibrarySuffix returns the filename suffix shared libraries
// carry on this platform.
func SystemLibrarySuffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// SystemLibraryFormat decorates a logical library name with the
// platform prefix and suffix ("foo" -> "libfoo.so" on Linux).
func SystemLibraryFormat(name string) string {
	return SystemLibraryPrefix() + name + SystemLibrarySuffix()
}
