package lobby

import (
	"context"
	"errors"
	"regexp"
	"testing"
)

func TestRandomCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z]{4}$`)
	for i := 0; i < 100; i++ {
		if code := randomCode(); !pattern.MatchString(code) {
			t.Fatalf("code %q does not match ^[A-Z]{4}$", code)
		}
	}
}

func TestAllocateCode(t *testing.T) {
	taken := map[string]bool{}
	probes := 0

	code, err := allocateCode(context.Background(), func(ctx context.Context, c string) (bool, error) {
		probes++
		return taken[c], nil
	})
	if err != nil {
		t.Fatalf("allocating: %v", err)
	}
	if code == "" || probes != 1 {
		t.Errorf("expected one probe and a code, got %q after %d probes", code, probes)
	}
}

func TestAllocateCodeExhausted(t *testing.T) {
	probes := 0
	_, err := allocateCode(context.Background(), func(ctx context.Context, c string) (bool, error) {
		probes++
		return true, nil
	})

	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
	}
	if probes != codeMaxAttempts {
		t.Errorf("expected %d probes, got %d", codeMaxAttempts, probes)
	}
}

func TestAllocateCodeProbeError(t *testing.T) {
	boom := errors.New("backend down")
	_, err := allocateCode(context.Background(), func(ctx context.Context, c string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected probe error to surface, got %v", err)
	}
}
