package tool

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"offsite-go/internal/offsite"
)

// MemoryClient is an in-memory replication tool. It records every call
// and can be told to fail specific operations, which makes it the test
// double for the engine.
// This implementation is safe for concurrent use.
type MemoryClient struct {
	mu sync.Mutex

	datasets map[string]*memoryDataset
	device   offsite.Options
	actions  []offsite.Action
	maxSyncs int

	calls    []string
	failures map[string]error
}

type memoryDataset struct {
	target   string
	options  offsite.Options
	local    []int64
	remote   []int64
	critical []int64
	pending  []int64
	used     int64
	halted   bool
}

// NewMemoryClient creates an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		datasets: make(map[string]*memoryDataset),
		maxSyncs: 1,
		failures: make(map[string]error),
	}
}

// Fail makes every later call whose log entry starts with prefix return err.
// Call entries look like "mirror tank/a@100" or "pause zfs".
func (m *MemoryClient) Fail(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = err
}

// ClearFailures removes all injected failures.
func (m *MemoryClient) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// Calls returns the call log.
func (m *MemoryClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// ResetCalls clears the call log.
func (m *MemoryClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Track registers a dataset with the cloud target.
func (m *MemoryClient) Track(dataset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset(dataset, offsite.TargetCloud)
}

// IsTracked reports whether the dataset is known.
func (m *MemoryClient) IsTracked(dataset string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.datasets[dataset]
	return ok
}

// SetPoints replaces the point lists of a tracked dataset. Nil leaves a list unchanged.
func (m *MemoryClient) SetPoints(dataset string, local, remote, critical, pending []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds := m.dataset(dataset, offsite.TargetCloud)
	if local != nil {
		ds.local = slices.Clone(local)
	}
	if remote != nil {
		ds.remote = slices.Clone(remote)
	}
	if critical != nil {
		ds.critical = slices.Clone(critical)
	}
	if pending != nil {
		ds.pending = slices.Clone(pending)
	}
}

// SetRemoteUsed sets the remote used bytes of a tracked dataset.
func (m *MemoryClient) SetRemoteUsed(dataset string, used int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset(dataset, offsite.TargetCloud).used = used
}

// SetActions replaces the in-flight actions.
func (m *MemoryClient) SetActions(actions []offsite.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = slices.Clone(actions)
}

// SetDatasetOptions overrides a dataset's pause state without logging a call.
func (m *MemoryClient) SetDatasetOptions(dataset string, opts offsite.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset(dataset, offsite.TargetCloud).options = opts
}

// SetGlobalOptions overrides the device pause state without logging a call.
func (m *MemoryClient) SetGlobalOptions(opts offsite.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = opts
}

// Target returns the target a dataset was added with.
func (m *MemoryClient) Target(dataset string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.datasets[dataset]; ok {
		return ds.target
	}
	return ""
}

// Halted reports whether Halt was called for the dataset.
func (m *MemoryClient) Halted(dataset string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.datasets[dataset]; ok {
		return ds.halted
	}
	return false
}

// RemotePoints returns the remote points of a dataset.
func (m *MemoryClient) RemotePoints(dataset string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.datasets[dataset]; ok {
		return slices.Clone(ds.remote)
	}
	return nil
}

// dataset returns the named dataset, creating it if needed. Caller holds mu.
func (m *MemoryClient) dataset(name, target string) *memoryDataset {
	ds, ok := m.datasets[name]
	if !ok {
		ds = &memoryDataset{target: target}
		m.datasets[name] = ds
	}
	return ds
}

// record logs a call and returns any injected failure. Caller holds mu.
func (m *MemoryClient) record(call string) error {
	m.calls = append(m.calls, call)
	for prefix, err := range m.failures {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

// tracked returns the dataset or ErrNotTracked. Caller holds mu.
func (m *MemoryClient) tracked(dataset string) (*memoryDataset, error) {
	ds, ok := m.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dataset, offsite.ErrNotTracked)
	}
	return ds, nil
}

func (m *MemoryClient) AddDataset(ctx context.Context, dataset string) error {
	return m.AddDatasetToTarget(ctx, dataset, offsite.TargetCloud)
}

func (m *MemoryClient) AddDatasetToTarget(_ context.Context, dataset, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("add " + dataset + " " + target); err != nil {
		return err
	}
	m.dataset(dataset, target)
	return nil
}

func (m *MemoryClient) Mirror(_ context.Context, dataset string, epoch int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("mirror " + offsite.SnapshotName(dataset, epoch)); err != nil {
		return err
	}
	ds, err := m.tracked(dataset)
	if err != nil {
		return err
	}
	if !slices.Contains(ds.remote, epoch) {
		ds.remote = append(ds.remote, epoch)
		slices.Sort(ds.remote)
	}
	return nil
}

func (m *MemoryClient) RemoteDestroy(_ context.Context, snapshot string, reason offsite.DestroyReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("remote destroy " + snapshot + " " + string(reason)); err != nil {
		return err
	}
	dataset, _, _ := strings.Cut(snapshot, "@")
	ds, err := m.tracked(dataset)
	if err != nil {
		return err
	}
	epoch := offsite.Action{Snapshot: snapshot}.Epoch()
	ds.remote = slices.DeleteFunc(ds.remote, func(e int64) bool { return e == epoch })
	return nil
}

func (m *MemoryClient) ListSnapshots(_ context.Context, dataset string) (*offsite.SnapshotListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list snapshots " + dataset); err != nil {
		return nil, err
	}
	ds, err := m.tracked(dataset)
	if err != nil {
		return nil, err
	}
	return &offsite.SnapshotListing{
		Remote:   slices.Clone(ds.remote),
		Critical: slices.Clone(ds.critical),
		Pending:  slices.Clone(ds.pending),
	}, nil
}

func (m *MemoryClient) points(kind, dataset string, pick func(*memoryDataset) []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list " + kind + " " + dataset); err != nil {
		return nil, err
	}
	ds, err := m.tracked(dataset)
	if err != nil {
		return nil, err
	}
	return slices.Clone(pick(ds)), nil
}

func (m *MemoryClient) GetRemotePoints(_ context.Context, dataset string) ([]int64, error) {
	return m.points("remote", dataset, func(ds *memoryDataset) []int64 { return ds.remote })
}

func (m *MemoryClient) GetCriticalPoints(_ context.Context, dataset string) ([]int64, error) {
	return m.points("critical", dataset, func(ds *memoryDataset) []int64 { return ds.critical })
}

func (m *MemoryClient) GetRemotePending(_ context.Context, dataset string) ([]int64, error) {
	return m.points("pending", dataset, func(ds *memoryDataset) []int64 { return ds.pending })
}

func (m *MemoryClient) GetLocalPoints(_ context.Context, dataset string) ([]int64, error) {
	return m.points("local", dataset, func(ds *memoryDataset) []int64 { return ds.local })
}

func (m *MemoryClient) GetRemoteUsed(_ context.Context, dataset string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("remote used " + dataset); err != nil {
		return 0, err
	}
	ds, err := m.tracked(dataset)
	if err != nil {
		return 0, err
	}
	return ds.used, nil
}

func (m *MemoryClient) GetJobs(context.Context) (map[string]offsite.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("jobs"); err != nil {
		return nil, err
	}
	jobs := make(map[string]offsite.Job, len(m.datasets))
	for name, ds := range m.datasets {
		state := "active"
		if ds.options.IsPaused() {
			state = "paused"
		}
		jobs[name] = offsite.Job{Target: ds.target, State: state}
	}
	return jobs, nil
}

func (m *MemoryClient) GetActions(context.Context) ([]offsite.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("actions"); err != nil {
		return nil, err
	}
	return slices.Clone(m.actions), nil
}

// setAxis applies a pause change to a dataset, or to the device when dataset is empty.
func (m *MemoryClient) setAxis(verb, axis, dataset string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := verb + " " + axis
	if dataset != "" {
		call += " " + dataset
	}
	if err := m.record(call); err != nil {
		return err
	}

	opts := &m.device
	if dataset != "" {
		ds, err := m.tracked(dataset)
		if err != nil {
			return err
		}
		opts = &ds.options
	}
	if axis == "zfs" {
		opts.ZfsPaused = paused
	} else {
		opts.TransferPaused = paused
	}
	return nil
}

func (m *MemoryClient) PauseZfs(_ context.Context, dataset string) error {
	return m.setAxis("pause", "zfs", dataset, true)
}

func (m *MemoryClient) ResumeZfs(_ context.Context, dataset string) error {
	return m.setAxis("resume", "zfs", dataset, false)
}

func (m *MemoryClient) PauseTransfer(_ context.Context, dataset string) error {
	return m.setAxis("pause", "transfer", dataset, true)
}

func (m *MemoryClient) ResumeTransfer(_ context.Context, dataset string) error {
	return m.setAxis("resume", "transfer", dataset, false)
}

func (m *MemoryClient) PauseDeviceZfs(context.Context) error {
	return m.setAxis("pause", "zfs", "", true)
}

func (m *MemoryClient) ResumeDeviceZfs(context.Context) error {
	return m.setAxis("resume", "zfs", "", false)
}

func (m *MemoryClient) PauseDeviceTransfer(context.Context) error {
	return m.setAxis("pause", "transfer", "", true)
}

func (m *MemoryClient) ResumeDeviceTransfer(context.Context) error {
	return m.setAxis("resume", "transfer", "", false)
}

func (m *MemoryClient) GetDatasetOptions(_ context.Context, dataset string) (offsite.Options, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("options " + dataset); err != nil {
		return offsite.Options{}, err
	}
	ds, err := m.tracked(dataset)
	if err != nil {
		return offsite.Options{}, err
	}
	return ds.options, nil
}

func (m *MemoryClient) GetGlobalOptions(context.Context) (offsite.Options, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("options"); err != nil {
		return offsite.Options{}, err
	}
	return m.device, nil
}

func (m *MemoryClient) Halt(_ context.Context, dataset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("halt " + dataset); err != nil {
		return err
	}
	ds, err := m.tracked(dataset)
	if err != nil {
		return err
	}
	ds.halted = true
	ds.pending = nil
	return nil
}

func (m *MemoryClient) Refresh(_ context.Context, dataset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("refresh " + dataset); err != nil {
		return err
	}
	_, err := m.tracked(dataset)
	return err
}

func (m *MemoryClient) RefreshAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("refresh")
}

func (m *MemoryClient) SetMaxSyncs(_ context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("config maxSyncs %d", n)); err != nil {
		return err
	}
	m.maxSyncs = n
	return nil
}

func (m *MemoryClient) GetMaxSyncs(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("config maxSyncs"); err != nil {
		return 0, err
	}
	return m.maxSyncs, nil
}

// Compile-time check
var _ offsite.ToolClient = (*MemoryClient)(nil)
