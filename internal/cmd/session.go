package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/3leaps/amipatch/internal/config"
	"github.com/3leaps/amipatch/pkg/manifest"
	"github.com/3leaps/amipatch/pkg/output"
	"github.com/3leaps/amipatch/pkg/provider"
	awsprov "github.com/3leaps/amipatch/pkg/provider/aws"
)

const providerAWS = "aws"

// services bundles the collaborators a command talks to.
type services struct {
	Region        string
	Inventory     provider.InventoryService
	Compute       provider.ComputeService
	Commands      provider.CommandService
	Objects       provider.ObjectStore
	ScalingGroups provider.ScalingGroupService
}

// newServices builds AWS-backed collaborators. Tests replace it.
var newServices = func(ctx context.Context, cfg awsprov.Config) (*services, error) {
	clients, err := awsprov.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &services{
		Region:        clients.Region,
		Inventory:     clients.Inventory,
		Compute:       clients.Compute,
		Commands:      clients.Commands,
		Objects:       clients.Objects,
		ScalingGroups: clients.ScalingGroups,
	}, nil
}

// awsConfig merges process settings with an optional manifest connection.
// Manifest values win.
func awsConfig(cfg *config.Config, conn *manifest.ConnectionConfig) awsprov.Config {
	out := awsprov.Config{
		Region:        cfg.AWS.Region,
		Profile:       cfg.AWS.Profile,
		Endpoint:      cfg.AWS.Endpoint,
		UseIMDSRegion: cfg.AWS.UseIMDSRegion,
	}
	if conn != nil {
		if conn.Region != "" {
			out.Region = conn.Region
		}
		if conn.Profile != "" {
			out.Profile = conn.Profile
		}
		if conn.Endpoint != "" {
			out.Endpoint = conn.Endpoint
		}
	}
	if out.Endpoint != "" {
		out.UseIMDSRegion = false
	}
	return out
}

func connect(ctx context.Context, cfg awsprov.Config) (*services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, exitError(ExitInvalidConfig, "Invalid AWS configuration", err)
	}
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return nil, upstreamExit("Failed to connect to AWS", err)
	}
	return svc, nil
}

// createWriter opens the JSONL destination ("stdout", "file:<path>" or a bare
// path); "stdout" writes to out. Returns the writer, a cleanup function, and
// any error.
func createWriter(out io.Writer, dest, jobID string) (*output.JSONLWriter, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(out, jobID, providerAWS)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, jobID, providerAWS)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
