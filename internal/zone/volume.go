package zone

// ToUI converts a native controller volume (0-50) to the UI scale (0-100).
//
// Values are rounded to the nearest integer and clamped to the valid
// range, so out-of-range input is safe. The endpoints map exactly:
// ToUI(0) == 0 and ToUI(NativeVolumeMax) == UIVolumeMax.
func ToUI(native int) int {
	if native < 0 {
		return 0
	}
	if native > NativeVolumeMax {
		return UIVolumeMax
	}
	// round(native * 100 / 50)
	return (native*UIVolumeMax + NativeVolumeMax/2) / NativeVolumeMax
}

// ToNative converts a UI volume (0-100) to the controller's native scale
// (0-50).
//
// Values are rounded to the nearest integer and clamped to the valid
// range. The native scale is coarser, so a UI-side round trip is not
// exact in general: ToNative(81) == 41 but ToUI(41) == 82.
func ToNative(ui int) int {
	if ui < 0 {
		return 0
	}
	if ui > UIVolumeMax {
		return NativeVolumeMax
	}
	// round(ui * 50 / 100)
	return (ui*NativeVolumeMax + UIVolumeMax/2) / UIVolumeMax
}

// ClampNative restricts a native volume to the controller's 0-50 range.
func ClampNative(native int) int {
	if native < 0 {
		return 0
	}
	if native > NativeVolumeMax {
		return NativeVolumeMax
	}
	return native
}
