package options

import "testing"

func TestNewDefaults(t *testing.T) {
	o, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil, nil) returned error: %v", err)
	}
	n, _ := o.GetInt(InstCount)
	if n != 6 {
		t.Fatalf("default inst_count = %d, want 6", n)
	}
	typ, _ := o.GetString(Type)
	if typ != "all" {
		t.Fatalf("default type = %q, want \"all\"", typ)
	}
}

func TestNewRejectsUnknownKey(t *testing.T) {
	_, err := New(map[string]any{"bogus": 1}, nil)
	if err == nil {
		t.Fatal("expected UnknownOption error")
	}
}

func TestSetInvalidInstCount(t *testing.T) {
	o, _ := New(nil, nil)
	if err := o.Set(InstCount, 0); err == nil {
		t.Fatal("expected InvalidOption for inst_count = 0")
	}
	if err := o.Set(InstCount, "6"); err == nil {
		t.Fatal("expected InvalidOption for non-int inst_count")
	}
}

// TestBadBytesValidation mirrors scenario S5: an odd-length value and a
// non-hex value must both surface as InvalidOption, not BadBytesMalformed
// directly, since Set/New wrap the shared decode failure (§4.1).
func TestBadBytesValidation(t *testing.T) {
	o, _ := New(nil, nil)
	if err := o.Set(BadBytes, "ZZ"); err == nil {
		t.Fatal("expected InvalidOption for non-hex badbytes")
	}
	if err := o.Set(BadBytes, "0"); err == nil {
		t.Fatal("expected InvalidOption for odd-length badbytes")
	}
	if err := o.Set(BadBytes, "00ff"); err != nil {
		t.Fatalf("valid badbytes rejected: %v", err)
	}
}

func TestTypeValidation(t *testing.T) {
	o, _ := New(nil, nil)
	if err := o.Set(Type, "rop"); err != nil {
		t.Fatalf("valid type rejected: %v", err)
	}
	if err := o.Set(Type, "bogus"); err == nil {
		t.Fatal("expected InvalidOption for unknown type value")
	}
}

func TestOnChangeFiresAfterUnlock(t *testing.T) {
	var seen []string
	var o *Options
	var err error
	o, err = New(nil, func(key string, old, newVal any) {
		seen = append(seen, key)
		// Reentrant call must not deadlock: the lock is released
		// before onChange runs.
		if _, err := o.Get(InstCount); err != nil {
			t.Errorf("reentrant Get failed: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := o.Set(Color, true); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if len(seen) != 1 || seen[0] != Color {
		t.Fatalf("onChange fired unexpectedly: %v", seen)
	}
}

func TestSetUnknownOption(t *testing.T) {
	o, _ := New(nil, nil)
	if err := o.Set("bogus", 1); err == nil {
		t.Fatal("expected UnknownOption")
	}
}

func TestIterFixedOrder(t *testing.T) {
	o, _ := New(nil, nil)
	var keys []string
	o.Iter(func(key string, value any) bool {
		keys = append(keys, key)
		return true
	})
	want := []string{InstCount, Color, BadBytes, All, Type, Detailed}
	if len(keys) != len(want) {
		t.Fatalf("Iter yielded %d keys, want %d", len(keys), len(want))
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("Iter()[%d] = %q, want %q", i, keys[i], k)
		}
	}
}
