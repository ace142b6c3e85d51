package cluster_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/danmuck/emberctl/internal/comm/cluster"
	"github.com/danmuck/emberctl/internal/config"
	"github.com/danmuck/emberctl/internal/sim"
	"github.com/danmuck/emberctl/internal/testutil/testlog"
	"github.com/danmuck/emberctl/internal/testutil/tlstest"
)

func TestSecurityValidate(t *testing.T) {
	cases := []struct {
		name string
		sec  cluster.Security
		want error
	}{
		{"disabled", cluster.Security{}, nil},
		{"mutual without tls", cluster.Security{Mutual: true}, cluster.ErrTLSRequired},
		{"missing cert", cluster.Security{Enabled: true, KeyFile: "k", CAFile: "ca"}, cluster.ErrTLSCertFileRequired},
		{"missing key", cluster.Security{Enabled: true, CertFile: "c", CAFile: "ca"}, cluster.ErrTLSKeyFileRequired},
		{"missing ca", cluster.Security{Enabled: true, CertFile: "c", KeyFile: "k"}, cluster.ErrTLSCAFileRequired},
		{"skip verify without ca", cluster.Security{Enabled: true, CertFile: "c", KeyFile: "k", InsecureSkipVerify: true}, nil},
		{"mutual skip verify still needs ca", cluster.Security{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k", InsecureSkipVerify: true}, cluster.ErrTLSCAFileRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sec.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSecurityValidateClient(t *testing.T) {
	sec := cluster.Security{Enabled: true, CAFile: "ca"}
	if err := sec.ValidateClient(); err != nil {
		t.Fatalf("cert-less client rejected: %v", err)
	}
	sec.Mutual = true
	if err := sec.ValidateClient(); !errors.Is(err, cluster.ErrTLSCertFileRequired) {
		t.Fatalf("mutual without client cert accepted: %v", err)
	}
	sec = cluster.Security{Enabled: true, CAFile: "ca", CertFile: "c"}
	if err := sec.ValidateClient(); !errors.Is(err, cluster.ErrTLSKeyFileRequired) {
		t.Fatalf("cert without key accepted: %v", err)
	}
}

func TestClusterRunsOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "fabric-test-ca")
	ips := []net.IP{net.ParseIP("127.0.0.1")}
	certPath, keyPath := ca.IssueNodeCert(t, dir, "fabric-node", nil, ips)

	sec := cluster.Security{
		Enabled:  true,
		Mutual:   true,
		CertFile: certPath,
		KeyFile:  keyPath,
		CAFile:   ca.CAFile(),
	}

	addrs := make([]string, 2)
	for i := range addrs {
		w := cluster.NewWorker("127.0.0.1:0", sim.ClusterRun)
		if err := w.Secure(sec); err != nil {
			t.Fatalf("worker security: %v", err)
		}
		if err := w.Listen(); err != nil {
			t.Fatalf("worker %d listen: %v", i, err)
		}
		addrs[i] = w.Addr()
		go w.Serve(ctx)
	}

	sc := config.Scenario{
		Rows: 8, Cols: 8, MaxIter: 50,
		Teams:   []config.TeamConfig{{X: 1, Y: 1, Policy: 1}},
		Sources: []config.SourceConfig{{X: 3, Y: 3, Start: 0, Heat: 100}},
	}
	local, err := sim.RunLocal(ctx, sc, 2)
	if err != nil {
		t.Fatalf("local run: %v", err)
	}

	d := cluster.NewDriver(addrs)
	if err := d.Secure(sec); err != nil {
		t.Fatalf("driver security: %v", err)
	}
	outcome, err := d.Run(ctx, sc)
	if err != nil {
		t.Fatalf("cluster run over tls: %v", err)
	}
	if outcome.Iterations != local.Iterations {
		t.Fatalf("iterations: cluster %d, local %d", outcome.Iterations, local.Iterations)
	}
}
