package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/amipatch/pkg/output"
	"github.com/3leaps/amipatch/pkg/provider"
	awsprov "github.com/3leaps/amipatch/pkg/provider/aws"
	"github.com/3leaps/amipatch/pkg/provider/providertest"
	"github.com/3leaps/amipatch/pkg/resource"
)

const yumOutput = `Loaded plugins: extras_suggestions, langpacks, priorities, update-motd
Resolving Dependencies

Updated:
  openssl.x86_64 1:1.0.2k-24.amzn2.0.12      openssl-libs.x86_64 1:1.0.2k-24.amzn2.0.12

Complete!
`

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a patch run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fleet is an in-memory account with three stacks:
//
//	web  - one instance and one bucket
//	data - one bucket
//	old  - a deleted stack with one instance
type fleet struct {
	inventory *providertest.Inventory
	compute   *providertest.Compute
	commands  *providertest.Commands
	objects   *providertest.ObjectStore
	groups    *providertest.ScalingGroups
}

func newFleet() *fleet {
	return &fleet{
		inventory: &providertest.Inventory{
			Page: &provider.StackPage{Stacks: []provider.StackSummary{
				{ID: "arn:stack/web", Name: "web", Status: "CREATE_COMPLETE"},
				{ID: "arn:stack/data", Name: "data", Status: "UPDATE_COMPLETE"},
				{ID: "arn:stack/old", Name: "old", Status: "DELETE_COMPLETE"},
			}},
			Resources: map[string][]provider.ResourceDescriptor{
				"arn:stack/web": {
					{Type: resource.TypeInstance, Status: "CREATE_COMPLETE", PhysicalID: "i-web", LogicalID: "WebServer"},
					{Type: "AWS::S3::Bucket", Status: "CREATE_COMPLETE", PhysicalID: "web-assets", LogicalID: "Assets"},
				},
				"arn:stack/data": {
					{Type: "AWS::S3::Bucket", Status: "CREATE_COMPLETE", PhysicalID: "data-lake", LogicalID: "Lake"},
				},
				"arn:stack/old": {
					{Type: resource.TypeInstance, Status: "DELETE_COMPLETE", PhysicalID: "i-old", LogicalID: "WebServer"},
				},
			},
		},
		compute: &providertest.Compute{
			Instances: map[string]*provider.InstanceDescription{
				"i-web": {InstanceID: "i-web", ImageID: "ami-web", InstanceType: "t3.small", State: "running"},
			},
		},
		commands: &providertest.Commands{
			Statuses:      []provider.InvocationStatus{provider.InvocationSucceeded},
			OutputContent: yumOutput,
		},
		objects: &providertest.ObjectStore{Objects: map[string][]byte{}},
		groups:  &providertest.ScalingGroups{},
	}
}

func (f *fleet) services() *services {
	return &services{
		Region:        "us-east-1",
		Inventory:     f.inventory,
		Compute:       f.compute,
		Commands:      f.commands,
		Objects:       f.objects,
		ScalingGroups: f.groups,
	}
}

// resetFlags restores every flag of every command to its default.
func resetFlags() {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

// isolate points config discovery at empty directories and keeps logs quiet.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", filepath.Join(dir, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("AMIPATCH_LOG_LEVEL", "error")
	t.Setenv("AMIPATCH_POLL_UNIT", "1ms")
	t.Chdir(dir)
	return dir
}

// run executes the root command against svc and returns stdout.
func run(t *testing.T, svc *services, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	return runContext(t, context.Background(), svc, stdin, args...)
}

// runContext is run with a caller-controlled context, standing in for the
// signal context main installs.
func runContext(t *testing.T, ctx context.Context, svc *services, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	isolate(t)
	resetFlags()
	appConfig = nil

	orig := newServices
	newServices = func(ctx context.Context, cfg awsprov.Config) (*services, error) {
		if svc == nil {
			return nil, &provider.ProviderError{Op: "Connect", Service: "fake", Err: provider.ErrInvalidCredentials}
		}
		return svc, nil
	}
	t.Cleanup(func() {
		newServices = orig
		appConfig = nil
		resetFlags()
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	var out syncBuffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	if stdin != nil {
		rootCmd.SetIn(stdin)
	}
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeRecords(t *testing.T, out string) []output.Record {
	t.Helper()
	var recs []output.Record
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line: %s", line)
		recs = append(recs, rec)
	}
	require.NoError(t, sc.Err())
	return recs
}

func ofType(recs []output.Record, typ string) []output.Record {
	var out []output.Record
	for _, r := range recs {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func dataOf[T any](t *testing.T, rec output.Record) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Data, &v))
	return v
}
