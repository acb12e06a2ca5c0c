package cmd

import (
	"context"
	"fmt"

	"github.com/cloisterhq/warden/internal/verify"
)

// RunCheck performs the static verification: does the live rule table
// match the persisted state? A mismatch is an operational alarm, reported
// through a non-zero exit.
func RunCheck(configPath string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	st, counts, err := verify.NewStatic(a.cfg, a.eng, a.store).Check(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("OK: mode %s matches live rules (ipv4=%d ipv6=%d dmz=%d)\n",
		st.Mode, counts.V4, counts.V6, counts.DMZ)
	return nil
}
