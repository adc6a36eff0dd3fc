package defs

import "testing"

func TestOkFailShape(t *testing.T) {
	r := Ok(1, 1, 2, 3, 4)
	if r.Status != OK || r.Id != 1 || r.A0 != 1 || r.A3 != 4 {
		t.Fatalf("unexpected ok ret: %+v", r)
	}

	f := Fail(ERR_OOMEM)
	if f.Status != ERR_OOMEM || f.Id != 0 || f.A0 != 0 {
		t.Fatalf("unexpected fail ret: %+v", f)
	}
}

func TestFailPanicsOnOK(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when Fail(OK) is called")
		}
	}()
	Fail(OK)
}

func TestCapAllCoversDefinedBits(t *testing.T) {
	all := []Cap_t{CAP_CAPS, CAP_PROC, CAP_CALL, CAP_IRQ, CAP_POWER, CAP_SIGNAL}
	var union Cap_t
	for _, c := range all {
		union |= c
	}
	if union != CAP_ALL {
		t.Fatalf("CAP_ALL %x does not match union of defined bits %x", CAP_ALL, union)
	}
}

func TestSyscallNamesComplete(t *testing.T) {
	for i := SyscallNo(0); i < SYS_COUNT; i++ {
		if SyscallNames[i] == "" {
			t.Fatalf("syscall %d has no registered name", i)
		}
	}
}

func TestErrStringKnown(t *testing.T) {
	if OK.String() != "OK" {
		t.Fatalf("OK.String() = %q", OK.String())
	}
	if Err_t(-100).String() != "ERR_UNKNOWN" {
		t.Fatalf("unexpected string for out-of-range error")
	}
}
