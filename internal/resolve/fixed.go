package resolve

// FixedRoller replays a scripted sequence of die faces, cycling when exhausted.
// Faces are clamped into the requested range, so Fixed(20) always yields the
// highest face of whatever die is rolled.
type FixedRoller struct {
	faces []int
	next  int
}

// Fixed returns a roller that yields the given faces in order.
func Fixed(faces ...int) *FixedRoller {
	if len(faces) == 0 {
		faces = []int{10}
	}
	return &FixedRoller{faces: faces}
}

// Intn returns face-1 so that Check sees the scripted face.
func (f *FixedRoller) Intn(n int) int {
	face := f.faces[f.next%len(f.faces)]
	f.next++
	if face < 1 {
		face = 1
	}
	if face > n {
		face = n
	}
	return face - 1
}

// Float64 returns the scripted face scaled into [0,1) against a d20.
func (f *FixedRoller) Float64() float64 {
	return float64(f.Intn(Die)) / Die
}
