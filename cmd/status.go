package cmd

import (
	"context"
	"fmt"
	"os"
	"time"
)

// RunStatus prints the current posture. Informational only: it succeeds
// even when parts of the picture are unavailable.
func RunStatus(configPath string) {
	a, err := newApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		return
	}

	st, err := a.store.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: cannot read state: %v\n", err)
		return
	}

	fmt.Println("=== Warden Egress Status ===")
	fmt.Printf("Mode:            %s\n", st.Mode)
	fmt.Printf("Protected (v4):  %s\n", orNone(st.ProtectedSubnetV4))
	fmt.Printf("Protected (v6):  %s\n", orNone(st.ProtectedSubnetV6))
	fmt.Printf("DMZ subnet:      %s\n", orNone(st.DMZSubnet))
	if st.LastChanged.IsZero() {
		fmt.Printf("Last changed:    never\n")
	} else {
		fmt.Printf("Last changed:    %s\n", st.LastChanged.UTC().Format(time.RFC3339))
	}

	// Live counts need the rule table tools; degrade rather than fail.
	if os.Geteuid() == 0 {
		counts, err := a.eng.Counts(context.Background())
		if err != nil {
			fmt.Printf("Rules:           unavailable (%v)\n", err)
		} else {
			fmt.Printf("Rules:           ipv4=%d ipv6=%d dmz=%d\n", counts.V4, counts.V6, counts.DMZ)
		}
	} else {
		fmt.Printf("Rules:           unavailable (run as root for live counts)\n")
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
