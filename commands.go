package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"

	"lanpull/config"
	"lanpull/davclient"
	"lanpull/discovery"
	"lanpull/models"
	"lanpull/registry"
	"lanpull/share"
	"lanpull/storage"
	"lanpull/transfer"
)

const (
	defaultPeerWait   = 5 * time.Second
	peerPollInterval  = 200 * time.Millisecond
	progressRefresh   = 250 * time.Millisecond
	defaultHistoryMax = 20
)

var errIncompleteTransfer = errors.New("transfer did not complete")

type app struct {
	cfg     *config.DeviceConfig
	cfgPath string
	log     *slog.Logger
	out     io.Writer
}

func (a *app) newRegistry() *registry.Registry {
	return registry.New(registry.Config{
		LivenessWindow: a.cfg.LivenessWindow(),
		RemovalGrace:   a.cfg.RemovalGrace(),
		Logger:         a.log.With("component", "registry"),
	})
}

// startDiscovery starts the configured discovery adapter. A zero sharePort only
// listens for other devices.
func (a *app) startDiscovery(sharePort int) (discovery.Source, error) {
	switch a.cfg.DiscoveryMode {
	case config.DiscoveryModeMulticast:
		m, err := discovery.StartMulticast(discovery.MulticastConfig{
			Group:         a.cfg.MulticastGroup,
			Port:          a.cfg.MulticastPort,
			SelfDeviceID:  a.cfg.DeviceID,
			DeviceName:    a.cfg.DeviceName,
			ListeningPort: sharePort,
		})
		if err != nil {
			return nil, err
		}
		m.Query()
		return m, nil
	default:
		service, err := discovery.Start(discovery.Config{
			SelfDeviceID:  a.cfg.DeviceID,
			DeviceName:    a.cfg.DeviceName,
			ListeningPort: sharePort,
		})
		if err != nil {
			return nil, err
		}
		return service, nil
	}
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dir := fs.String("dir", a.cfg.ShareDir, "directory to share")
	port := fs.Int("port", a.cfg.SharePort, "WebDAV port (0 picks a free port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	absDir, err := filepath.Abs(*dir)
	if err != nil {
		return fmt.Errorf("resolve share directory: %w", err)
	}
	server, err := share.Listen(net.JoinHostPort("", strconv.Itoa(*port)), absDir, a.log.With("component", "share"))
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Printf("share close error: %v", err)
		}
	}()

	fmt.Fprintf(a.out, "Device ID:       %s\n", a.cfg.DeviceID)
	fmt.Fprintf(a.out, "Device Name:     %s\n", a.cfg.DeviceName)
	fmt.Fprintf(a.out, "Sharing:         %s\n", absDir)
	fmt.Fprintf(a.out, "Share Port:      %d\n", server.Port())
	fmt.Fprintf(a.out, "Config File:     %s\n", a.cfgPath)

	source, err := a.startDiscovery(server.Port())
	if err != nil {
		log.Printf("discovery startup failed: %v", err)
	} else {
		defer source.Stop()
		fmt.Fprintf(a.out, "Discovery:       %s\n", a.cfg.DiscoveryMode)
		go a.newRegistry().Run(ctx, source.Events(), 0)
	}

	fmt.Fprintln(a.out, "Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Fprintln(a.out, "Status:          shutting down")
	return nil
}

func (a *app) peers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("peers", flag.ContinueOnError)
	wait := fs.Duration("wait", defaultPeerWait, "how long to listen for announcements")
	asJSON := fs.Bool("json", false, "print peers as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := a.newRegistry()
	source, err := a.startDiscovery(0)
	if err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	defer source.Stop()

	runCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	reg.Run(runCtx, source.Events(), 0)

	peers := reg.Snapshot()
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(peers)
	}
	printPeers(a.out, peers)
	return nil
}

func printPeers(out io.Writer, peers []models.Peer) {
	if len(peers) == 0 {
		fmt.Fprintln(out, "no peers found")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tADDRESS\tSTATE\tLAST SEEN")
	for _, peer := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			peer.DisplayName,
			peer.ID,
			net.JoinHostPort(peer.Address, strconv.Itoa(peer.Port)),
			peer.State,
			peer.LastSeenAt.Format(time.TimeOnly),
		)
	}
	_ = w.Flush()
}

// waitForPeer polls the registry until idOrName resolves or wait elapses.
func waitForPeer(ctx context.Context, reg *registry.Registry, idOrName string, wait time.Duration) (models.Peer, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(peerPollInterval)
	defer ticker.Stop()

	for {
		peer, err := reg.Resolve(idOrName)
		if err == nil {
			return peer, nil
		}
		if errors.Is(err, registry.ErrAmbiguousPeer) {
			return models.Peer{}, err
		}
		select {
		case <-ctx.Done():
			return models.Peer{}, ctx.Err()
		case <-deadline.C:
			return models.Peer{}, err
		case <-ticker.C:
		}
	}
}

func (a *app) pull(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	peerArg := fs.String("peer", "", "peer ID or display name")
	remotePath := fs.String("path", "/", "remote folder or file to download")
	dest := fs.String("dest", a.cfg.DownloadDir, "local destination directory")
	concurrency := fs.Int("concurrency", a.cfg.ConcurrencyLimit, "parallel file downloads")
	wait := fs.Duration("wait", defaultPeerWait, "how long to wait for the peer to be discovered")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *peerArg == "" {
		return errors.New("-peer is required")
	}

	store, _, err := storage.Open(filepath.Dir(a.cfgPath))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	store.SetHistoryRetention(a.cfg.HistoryRetention())

	reg := a.newRegistry()
	source, err := a.startDiscovery(0)
	if err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	defer source.Stop()
	go reg.Run(ctx, source.Events(), 0)

	peer, err := waitForPeer(ctx, reg, *peerArg, *wait)
	if err != nil {
		return fmt.Errorf("find peer %q: %w", *peerArg, err)
	}

	client := davclient.New(davclient.Config{
		ListTimeout: a.cfg.ListTimeout(),
		Logger:      a.log.With("component", "davclient"),
	})
	scheduler, err := transfer.NewScheduler(transfer.SchedulerConfig{
		Peers:    reg,
		Lister:   client,
		Streamer: client,
		Defaults: a.transferOptions(),
		Logger:   a.log.With("component", "scheduler"),
	})
	if err != nil {
		return err
	}

	job, err := scheduler.Submit(ctx, peer.ID, *remotePath, *dest, transfer.Options{ConcurrencyLimit: *concurrency})
	if err != nil {
		return err
	}
	if err := store.RecordStarted(job, peer.DisplayName); err != nil {
		log.Printf("history: %v", err)
	}

	fmt.Fprintf(a.out, "Pulling %s from %s into %s\n", job.RemoteRoot, peer.DisplayName, job.Destination)
	renderProgress(job)

	report := job.Report()
	printReport(a.out, report)
	if err := store.RecordFinished(job, peer.DisplayName); err != nil {
		log.Printf("history: %v", err)
	}
	if err := scheduler.Acknowledge(job); err != nil {
		a.log.Warn("acknowledge job", slog.Any("error", err))
	}

	if report.State != transfer.JobCompleted {
		return fmt.Errorf("%w: %s", errIncompleteTransfer, report.State)
	}
	return nil
}

func (a *app) transferOptions() transfer.Options {
	return transfer.Options{
		ConcurrencyLimit: a.cfg.ConcurrencyLimit,
		MaxAttempts:      a.cfg.MaxAttempts,
		BaseDelay:        a.cfg.RetryBaseDelay(),
		MaxDelay:         a.cfg.RetryMaxDelay(),
		ChunkSize:        a.cfg.ChunkSize,
		ChunkTimeout:     a.cfg.ChunkTimeout(),
		SpeedWindow:      a.cfg.SpeedWindow(),
	}
}

// renderProgress draws a byte progress bar until the job finishes.
func renderProgress(job *transfer.Job) {
	bar := progressbar.DefaultBytes(int64(-1), "listing")
	ticker := time.NewTicker(progressRefresh)
	defer ticker.Stop()

	sized := false
	for {
		snap := job.Progress()
		if snap.WalkComplete && !sized {
			bar.ChangeMax64(snap.TotalBytesExpected)
			sized = true
		}
		bar.Describe(fmt.Sprintf("%d/%d files", snap.Completed, snap.Files))
		_ = bar.Set64(snap.TotalBytesTransferred)
		if snap.Done {
			_ = bar.Finish()
			return
		}
		select {
		case <-job.Done():
		case <-ticker.C:
		}
	}
}

func printReport(out io.Writer, report transfer.Report) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Job:         %s\n", report.JobID)
	fmt.Fprintf(out, "Status:      %s\n", report.State)
	fmt.Fprintf(out, "Files:       %d total, %d completed (%d already present), %d failed, %d pending\n",
		report.Total, report.Completed, report.Skipped, report.Failed, report.Pending)
	fmt.Fprintf(out, "Downloaded:  %d bytes in %s\n",
		report.BytesDownloaded, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, walkErr := range report.WalkErrors {
		fmt.Fprintf(out, "  unlisted  %s\n", walkErr.Error())
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(out, "  failed    %s after %d attempt(s): %v\n", failure.Path, failure.Attempts, failure.Err)
	}
}

func (a *app) history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", defaultHistoryMax, "number of jobs to list")
	jobID := fs.String("job", "", "show the files of one job")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, _, err := storage.Open(filepath.Dir(a.cfgPath))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()

	if *jobID != "" {
		return printJobFiles(a.out, store, *jobID)
	}

	jobs, err := store.ListJobs(*limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(a.out, "no transfers recorded")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTARTED\tPEER\tREMOTE\tSTATUS\tFILES\tFAILED\tBYTES")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			job.JobID,
			time.UnixMilli(job.StartedAt).Format(time.DateTime),
			job.PeerName,
			job.RemoteRoot,
			job.Status,
			job.TotalFiles,
			job.FailedFiles,
			job.BytesDownloaded,
		)
	}
	return w.Flush()
}

func printJobFiles(out io.Writer, store *storage.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	files, err := store.ListJobFiles(jobID, "")
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s  %s -> %s  (%s)\n", job.JobID, job.RemoteRoot, job.Destination, job.Status)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tSTATUS\tATTEMPTS\tERROR")
	for _, file := range files {
		status := file.Status
		if file.Skipped {
			status += " (present)"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", file.RelativePath, file.Size, status, file.Attempts, file.Error)
	}
	return w.Flush()
}
