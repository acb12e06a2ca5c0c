package ruletable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecClient_Available(t *testing.T) {
	runner := new(MockRunner)
	runner.On("LookPath", "iptables").Return("/usr/sbin/iptables", nil)

	c := NewExecClient("iptables", runner, time.Second)
	assert.True(t, c.Available())
	runner.AssertExpectations(t)
}

func TestExecClient_NotAvailable(t *testing.T) {
	runner := new(MockRunner)
	runner.On("LookPath", "ip6tables").Return("", errors.New("not found"))

	c := NewExecClient("ip6tables", runner, time.Second)
	assert.False(t, c.Available())
}

func TestExecClient_EnsureChain_AlreadyExists(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Output", "iptables", "-S", "DOCKER-USER").Return([]byte("-N DOCKER-USER\n"), nil)

	c := NewExecClient("iptables", runner, time.Second)
	require.NoError(t, c.EnsureChain(context.Background(), "DOCKER-USER"))
	runner.AssertNotCalled(t, "Run", "iptables", "-N", "DOCKER-USER")
}

func TestExecClient_EnsureChain_Creates(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Output", "iptables", "-S", "DOCKER-USER").Return(nil, errors.New("no chain"))
	runner.On("Run", "iptables", "-N", "DOCKER-USER").Return(nil)

	c := NewExecClient("iptables", runner, time.Second)
	require.NoError(t, c.EnsureChain(context.Background(), "DOCKER-USER"))
	runner.AssertExpectations(t)
}

func TestExecClient_Insert(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "iptables",
		"-I", "DOCKER-USER", "1",
		"-s", "172.20.0.0/16",
		"-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED",
		"-m", "comment", "--comment", "warden:sovereign-established",
		"-j", "ACCEPT",
	).Return(nil)

	c := NewExecClient("iptables", runner, time.Second)
	err := c.Insert(context.Background(), Rule{
		Chain:    "DOCKER-USER",
		Position: 1,
		Source:   "172.20.0.0/16",
		CtState:  "ESTABLISHED,RELATED",
		Action:   ActionAccept,
		Tag:      "sovereign-established",
	})
	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestExecClient_Insert_WrapsError(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "iptables",
		"-I", "DOCKER-USER", "1",
		"-s", "172.20.0.0/16",
		"-m", "comment", "--comment", "warden:sovereign-drop-all",
		"-j", "DROP",
	).Return(errors.New("permission denied"))

	c := NewExecClient("iptables", runner, time.Second)
	err := c.Insert(context.Background(), Rule{
		Chain: "DOCKER-USER", Position: 1, Source: "172.20.0.0/16",
		Action: ActionDrop, Tag: "sovereign-drop-all",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sovereign-drop-all")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestExecClient_List_MissingChainIsEmpty(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Output", "iptables", "-S", "DOCKER-USER").Return(nil, errors.New("No chain/target/match by that name"))

	c := NewExecClient("iptables", runner, time.Second)
	lines, err := c.List(context.Background(), "DOCKER-USER")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestExecClient_List_UnreadableTableIsAnError(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Output", "iptables", "-S", "DOCKER-USER").
		Return(nil, errors.New("iptables v1.8.7: Permission denied (you must be root)"))

	c := NewExecClient("iptables", runner, time.Second)

	_, err := c.List(context.Background(), "DOCKER-USER")
	require.Error(t, err, "an unreadable table must never look like an empty one")
	assert.Contains(t, err.Error(), "Permission denied")

	// The failure propagates to everything that counts or deletes by tag.
	_, err = c.CountTagged(context.Background(), "DOCKER-USER")
	require.Error(t, err)
	_, err = c.DeleteTagged(context.Background(), "DOCKER-USER")
	require.Error(t, err)
}

func TestIsMissingChain(t *testing.T) {
	assert.True(t, isMissingChain(errors.New("iptables: No chain/target/match by that name.")))
	assert.True(t, isMissingChain(errors.New("iptables v1.8.7 (nf_tables): chain `DOCKER-USER' in table `filter' does not exist")))
	assert.False(t, isMissingChain(errors.New("Permission denied (you must be root)")))
	assert.False(t, isMissingChain(errors.New("signal: killed")))
}

func TestExecClient_DeleteTagged_SelectsByOwnerOnly(t *testing.T) {
	saved := "-N DOCKER-USER\n" +
		`-A DOCKER-USER -j RETURN` + "\n" +
		`-A DOCKER-USER -s 172.20.0.0/16 -m comment --comment "warden:sovereign-established" -m conntrack --ctstate ESTABLISHED,RELATED -j ACCEPT` + "\n" +
		`-A DOCKER-USER -s 172.20.0.0/16 -m comment --comment "warden:sovereign-drop-all" -j DROP` + "\n" +
		`-A DOCKER-USER -s 10.9.0.0/24 -m comment --comment "other-tool" -j ACCEPT` + "\n"

	runner := new(MockRunner)
	runner.On("Output", "iptables", "-S", "DOCKER-USER").Return([]byte(saved), nil)
	runner.On("Run", "iptables",
		"-D", "DOCKER-USER",
		"-s", "172.20.0.0/16", "-m", "comment", "--comment", "warden:sovereign-established",
		"-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT",
	).Return(nil)
	runner.On("Run", "iptables",
		"-D", "DOCKER-USER",
		"-s", "172.20.0.0/16", "-m", "comment", "--comment", "warden:sovereign-drop-all",
		"-j", "DROP",
	).Return(nil)

	c := NewExecClient("iptables", runner, time.Second)
	removed, err := c.DeleteTagged(context.Background(), "DOCKER-USER")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	runner.AssertExpectations(t)
}

func TestExecClient_CountTagged(t *testing.T) {
	saved := "-N DOCKER-USER\n" +
		`-A DOCKER-USER -j RETURN` + "\n" +
		`-A DOCKER-USER -s 172.20.0.0/16 -m comment --comment "warden:sovereign-drop-all" -j DROP` + "\n"

	runner := new(MockRunner)
	runner.On("Output", "iptables", "-S", "DOCKER-USER").Return([]byte(saved), nil)

	c := NewExecClient("iptables", runner, time.Second)
	n, err := c.CountTagged(context.Background(), "DOCKER-USER")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
