// Package injector drives a complete injection run: it opens the images the
// selected modules need, injects the modules one after another, patches the
// SELinux policy and persists the result.
package injector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maxdollinger/modinject/internal/db"
	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/lock"
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/maxdollinger/modinject/pkg/sepolicy"
	"github.com/opencontainers/go-digest"
	"go.uber.org/multierr"
)

// Verifier checks a detached archive signature.
type Verifier interface {
	Verify(ctx context.Context, zipPath, sigPath, publicKey string) error
}

// Plan is everything a single run needs.
type Plan struct {
	Modules            []module.Module
	Images             partition.Map[string]
	Sepolicies         []string
	CompatibleSepolicy bool
	SkipVerify         bool
	TrustedKey         string
}

type Result struct {
	RunID    string
	Modules  []string
	Opened   []partition.Name
	CIL      sepolicy.CILResult
	Duration time.Duration

	// SepolicyPatched lists the modules whose binary policy patch ran.
	// Modules declaring SELinux patching without a patcher only touch
	// policy sources.
	SepolicyPatched []string
}

type Injector struct {
	locker   lock.Locker
	verifier Verifier
	opener   Opener
	journal  *sql.DB
	logger   *slog.Logger
}

// New creates an injector. journal may be nil to skip journaling.
func New(locker lock.Locker, verifier Verifier, opener Opener, journal *sql.DB) *Injector {
	return &Injector{
		locker:   locker,
		verifier: verifier,
		opener:   opener,
		journal:  journal,
		logger:   slog.Default(),
	}
}

// openSet holds the handles of one run in the order they were opened.
type openSet struct {
	handles module.Handles
	order   []fs.Handle
	names   []partition.Name
}

func (s *openSet) add(part partition.Name, h fs.Handle) {
	if part.IsBoot() {
		s.handles.Boot.Set(part, h)
	} else {
		s.handles.Ext.Set(part, h)
	}
	s.order = append(s.order, h)
	s.names = append(s.names, part)
}

func (s *openSet) has(part partition.Name) bool {
	return s.handles.Boot.Has(part) || s.handles.Ext.Has(part)
}

func (s *openSet) closeAll() error {
	var err error
	for i := len(s.order) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.order[i].Close())
	}
	return err
}

// Run injects plan.Modules in order. A failure aborts the run: handles are
// closed without saving, and images already written to (ext trees are
// modified in place) must be considered contaminated.
//
// Process:
//  1. Lock the image set
//  2. Verify module signatures
//  3. Open the required images
//  4. Inject every module
//  5. Patch CIL policy sources and binary policies
//  6. Save and close the images
func (i *Injector) Run(ctx context.Context, plan Plan) (result *Result, err error) {
	startTime := time.Now()

	if len(plan.Modules) == 0 {
		return nil, ErrNoModules
	}

	paths := make([]string, 0, plan.Images.Len())
	for _, part := range plan.Images.Names() {
		p, _ := plan.Images.Get(part)
		paths = append(paths, p)
	}

	lk, err := i.locker.AcquireLock(ctx, lock.KeyFor(paths...))
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if relErr := lk.Release(); relErr != nil {
			i.logger.WarnContext(ctx, "failed to release run lock", "error", relErr)
		}
	}()

	result = &Result{}
	outcomes := make(map[string]error, len(plan.Modules))

	if i.journal != nil {
		run, jErr := db.InsertRun(ctx, i.journal, plan.CompatibleSepolicy)
		if jErr != nil {
			return nil, jErr
		}
		result.RunID = run.ID
		defer func() {
			i.record(ctx, run.ID, plan.Modules, outcomes, err)
		}()
	}

	logger := i.logger.With("run", result.RunID)
	logger.InfoContext(ctx, "starting injection run",
		"modules", len(plan.Modules),
		"compatibleSepolicy", plan.CompatibleSepolicy)

	if err := i.verify(ctx, plan); err != nil {
		return nil, err
	}

	req := module.Requirements{}
	for _, m := range plan.Modules {
		req = req.Merge(m.Requirements())
	}

	set, err := i.open(ctx, plan, req)
	defer func() {
		if closeErr := set.closeAll(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close images: %w", closeErr))
		}
	}()
	if err != nil {
		return nil, err
	}
	result.Opened = set.names

	opts := module.InjectOptions{
		Sepolicies:         plan.Sepolicies,
		CompatibleSepolicy: plan.CompatibleSepolicy,
	}

	for _, m := range plan.Modules {
		if err := module.Validate(m.Requirements(), set.handles); err != nil {
			outcomes[m.Name()] = err
			return nil, fmt.Errorf("module %s: %w", m.Name(), err)
		}

		logger.InfoContext(ctx, "injecting module", "module", m.Name())
		if err := m.Inject(ctx, set.handles, opts); err != nil {
			outcomes[m.Name()] = err
			return nil, fmt.Errorf("inject %s: %w", m.Name(), err)
		}
		outcomes[m.Name()] = nil
		result.Modules = append(result.Modules, m.Name())
	}

	if req.SELinuxPatching {
		result.CIL, err = sepolicy.PatchFirmwareCIL(ctx, set.handles.Ext, plan.CompatibleSepolicy)
		if err != nil {
			return nil, fmt.Errorf("patch cil policy: %w", err)
		}

		for _, m := range plan.Modules {
			if !m.Requirements().SELinuxPatching {
				continue
			}
			patcher, ok := m.(module.SepolicyPatcher)
			if !ok {
				logger.DebugContext(ctx, "module has no binary sepolicy patcher, policy sources only", "module", m.Name())
				continue
			}
			if err := patcher.PatchSepolicy(ctx, plan.Sepolicies); err != nil {
				outcomes[m.Name()] = err
				return nil, fmt.Errorf("patch sepolicy for %s: %w", m.Name(), err)
			}
			result.SepolicyPatched = append(result.SepolicyPatched, m.Name())
		}
	}

	for idx, h := range set.order {
		if err := h.Save(); err != nil {
			return nil, fmt.Errorf("save %s: %w", set.names[idx], err)
		}
	}

	result.Duration = time.Since(startTime)
	logger.InfoContext(ctx, "injection run completed",
		"modules", result.Modules,
		"duration", result.Duration)

	return result, nil
}

func (i *Injector) verify(ctx context.Context, plan Plan) error {
	if plan.SkipVerify {
		i.logger.WarnContext(ctx, "skipping signature verification")
		return nil
	}

	for _, m := range plan.Modules {
		signed, ok := m.(module.Signed)
		if !ok {
			continue
		}
		zipPath, sigPath := signed.Archive()
		if sigPath == "" {
			return fmt.Errorf("%w: %s", ErrUnsigned, m.Name())
		}
		if err := i.verifier.Verify(ctx, zipPath, sigPath, plan.TrustedKey); err != nil {
			return fmt.Errorf("verify %s: %w", m.Name(), err)
		}
	}
	return nil
}

// open opens every declared image plus the optional policy partitions.
// vendor is opened when policy patching is needed so its CIL source can be
// updated; odm only matters in compatible mode.
func (i *Injector) open(ctx context.Context, plan Plan, req module.Requirements) (*openSet, error) {
	set := &openSet{}

	for _, part := range req.BootImages.Sorted() {
		if err := i.openOne(ctx, plan, set, part, true); err != nil {
			return set, err
		}
	}
	for _, part := range req.ExtImages.Sorted() {
		if err := i.openOne(ctx, plan, set, part, true); err != nil {
			return set, err
		}
	}

	var optional []partition.Name
	if req.SELinuxPatching || plan.CompatibleSepolicy {
		optional = append(optional, partition.Vendor)
	}
	if plan.CompatibleSepolicy {
		optional = append(optional, partition.Odm)
	}
	for _, part := range optional {
		if set.has(part) || !plan.Images.Has(part) {
			continue
		}
		if err := i.openOne(ctx, plan, set, part, false); err != nil {
			return set, err
		}
	}

	return set, nil
}

func (i *Injector) openOne(ctx context.Context, plan Plan, set *openSet, part partition.Name, required bool) error {
	path, err := plan.Images.Require(part)
	if err != nil {
		return fmt.Errorf("no image configured for required partition: %w", err)
	}

	var h fs.Handle
	if part.IsBoot() {
		h, err = i.opener.OpenBoot(ctx, part, path)
	} else {
		h, err = i.opener.OpenExt(ctx, part, path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", part, err)
	}

	i.logger.InfoContext(ctx, "opened image", "partition", part, "path", path, "required", required)
	set.add(part, h)
	return nil
}

// record journals the run outcome. Journal errors are logged, never returned,
// so they cannot mask the run result.
func (i *Injector) record(ctx context.Context, runID string, mods []module.Module, outcomes map[string]error, runErr error) {
	for _, m := range mods {
		outcome, ran := outcomes[m.Name()]
		if !ran {
			continue
		}

		mr := &db.ModuleRun{RunID: runID, Module: m.Name(), Status: db.StatusSucceeded}
		if outcome != nil {
			mr.Status = db.StatusFailed
			msg := outcome.Error()
			mr.Error = &msg
		}
		if signed, ok := m.(module.Signed); ok {
			zipPath, _ := signed.Archive()
			if d, err := fileDigest(zipPath); err == nil {
				mr.ZipDigest = d
			}
		}

		if err := db.InsertModuleRun(ctx, i.journal, mr); err != nil {
			i.logger.WarnContext(ctx, "failed to journal module run", "module", m.Name(), "error", err)
		}
	}

	if err := db.CompleteRun(ctx, i.journal, runID, runErr); err != nil {
		i.logger.WarnContext(ctx, "failed to journal run", "run", runID, "error", err)
	}
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}
