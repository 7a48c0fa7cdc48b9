package progress

import "testing"

func TestFunc_Report(t *testing.T) {
	var nilFunc Func
	nilFunc.Report(Precise, 1, 2)

	var got []int
	f := Func(func(phase string, completed, total int) {
		if phase != Trim || total != 1 {
			t.Errorf("unexpected call (%s, %d, %d)", phase, completed, total)
		}
		got = append(got, completed)
	})
	f.Report(Trim, 0, 1)
	f.Report(Trim, 1, 1)

	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("calls = %v, want [0 1]", got)
	}
}
