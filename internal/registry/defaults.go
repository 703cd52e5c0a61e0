package registry

// BuiltinDefaults returns the install defaults for the two reference cameras
// of the development site. Entries loaded from the install store replace
// them per camera.
func BuiltinDefaults() map[int]Defaults {
	return map[int]Defaults{
		0: {
			Name: "Camera 0", BevX: 100, BevY: 200, Theta: -90,
			H: [][]float64{{1.2, 0, 50}, {0, 1.2, 30}, {0, 0, 1}},
		},
		1: {
			Name: "Camera 1", BevX: 400, BevY: 200, Theta: 180,
			H: [][]float64{{1.2, 0, 100}, {0, 1.2, 60}, {0, 0, 1}},
		},
	}
}
