package conversation

import (
	"testing"
	"time"
)

func TestStateActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Now().Unix()
	cases := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{name: "future expiry", expiresAt: now + 60, want: true},
		{name: "just expired", expiresAt: now, want: false},
		{name: "long expired but unswept", expiresAt: now - 300, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := State{
				ID:        "s1",
				ChatID:    "oc_chat",
				Phase:     PhaseAwaitingIssuerSelection,
				ExpiresAt: tc.expiresAt,
			}
			if got := st.ActiveAt(now); got != tc.want {
				t.Errorf("ActiveAt = %v, want %v", got, tc.want)
			}
		})
	}
}
