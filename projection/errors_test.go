package projection

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ripkitten-co/inkwell"
)

func TestStopError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *StopError
		want string
	}{
		{
			name: "one of three",
			err: &StopError{
				Total:  3,
				Errors: map[string]error{"totals": context.DeadlineExceeded},
			},
			want: "stop projections: 1 of 3 failed",
		},
		{
			name: "all failed",
			err: &StopError{
				Total: 2,
				Errors: map[string]error{
					"totals": fmt.Errorf("boom"),
					"carts":  fmt.Errorf("bang"),
				},
			},
			want: "stop projections: 2 of 2 failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStopError_Unwrap(t *testing.T) {
	err := error(&StopError{
		Total: 2,
		Errors: map[string]error{
			"totals": fmt.Errorf("projection totals: %w", inkwell.ErrUnknownProjection),
			"carts":  context.Canceled,
		},
	})

	if !errors.Is(err, inkwell.ErrUnknownProjection) {
		t.Error("expected errors.Is to match ErrUnknownProjection")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected errors.Is to match context.Canceled")
	}
	if errors.Is(err, inkwell.ErrClosed) {
		t.Error("did not expect ErrClosed")
	}

	var se *StopError
	if !errors.As(err, &se) || len(se.Errors) != 2 {
		t.Fatalf("errors.As: got %+v", se)
	}
}
