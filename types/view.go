package types

import "strconv"

// View is the ordinal of one consensus round.
type View int64

const (
	ViewZero = View(0)
)

func (v View) Update(delta int) View {
	cur := int64(v)
	return View(cur + int64(delta))
}

// Next returns v+1.
func (v View) Next() View {
	return v.Update(1)
}

// Mod maps a view onto a validator index in [0, n).
func (v View) Mod(n int) int {
	if n <= 0 {
		return 0
	}
	m := int64(v) % int64(n)
	if m < 0 {
		m += int64(n)
	}
	return int(m)
}

func (v View) String() string {
	return strconv.FormatInt(int64(v), 10)
}
