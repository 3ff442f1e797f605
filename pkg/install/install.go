// SPDX-License-Identifier: MPL-2.0

// Package install drives requirements through find, fetch and install,
// then keeps going with the dependencies of whatever it installed until
// nothing new is needed.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/fetch"
	"github.com/stowage-dev/stowage/pkg/installed"
	"github.com/stowage-dev/stowage/pkg/reqspec"
	"github.com/stowage-dev/stowage/pkg/session"
)

// Requirement states, logged at debug level as a requirement moves through
// a run.
const (
	StatePending State = "PENDING"
	StateFind    State = "FIND"
	StateFetch   State = "FETCH"
	StateInstall State = "INSTALL"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

type (
	// State is the progress of one requirement.
	State string

	// Options control one Run.
	Options struct {
		// ForceOverwrite reinstalls requested content that is already
		// installed. It applies to the requirements passed to Run, not to
		// dependencies discovered on the way.
		ForceOverwrite bool
		// IgnoreErrors reports failed requirements and carries on.
		IgnoreErrors bool
		// NoDeps installs only the requirements passed to Run.
		NoDeps bool
	}

	// Failure is a requirement dropped under IgnoreErrors.
	Failure struct {
		Requirement collection.Requirement
		State       State
		Err         error
	}

	// Result summarizes a Run.
	Result struct {
		Installed []collection.RepositorySpec
		// Skipped are requirements already satisfied by installed content.
		Skipped []collection.Requirement
		Failed  []Failure
		// Conflicts are dependencies whose range excludes the version this
		// run already settled on for the same collection. They are reported,
		// not installed.
		Conflicts []collection.Requirement
	}

	// StrategyFactory builds the fetch strategy for a requirement.
	StrategyFactory func(collection.RequirementSpec, fetch.Options) (fetch.Strategy, error)

	// Installer runs installs against one session. Runs on the same
	// Installer are serialized.
	Installer struct {
		mu          sync.Mutex
		sess        *session.Session
		fetchOpts   fetch.Options
		newStrategy StrategyFactory
		now         func() time.Time
	}

	// Option configures an Installer.
	Option func(*Installer)

	// run is the state of one Run call.
	run struct {
		*Installer
		opts      Options
		index     *installed.Index
		logger    *log.Logger
		display   session.Display
		attempted map[string]bool
		result    *Result
	}
)

// WithStrategyFactory replaces fetch.New.
func WithStrategyFactory(f StrategyFactory) Option {
	return func(in *Installer) { in.newStrategy = f }
}

// WithSCMTools sets the SCM tools handed to the fetch strategies.
func WithSCMTools(tools map[string]fetch.SCMTool) Option {
	return func(in *Installer) { in.fetchOpts.SCMTools = tools }
}

// WithClock sets the clock used for install records.
func WithClock(now func() time.Time) Option {
	return func(in *Installer) { in.now = now }
}

// New returns an Installer for sess. reg serves registry lookups and HTTP
// downloads; it may be nil when no requirement needs either.
func New(sess *session.Session, reg fetch.Registry, opts ...Option) (*Installer, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	in := &Installer{
		sess:        sess,
		newStrategy: fetch.New,
		now:         time.Now,
		fetchOpts: fetch.Options{
			Registry:        reg,
			CollectionsRoot: sess.CollectionsRoot,
			TempDir:         sess.TempDir,
			Logger:          sess.Logger,
		},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Run installs reqs and, unless opts.NoDeps is set, their dependencies.
// Requirements are handled one at a time in label order, so the
// already-installed check for one requirement sees everything installed
// before it. The first failure ends the run unless opts.IgnoreErrors is
// set; a missing namespace always ends it. Nothing installed before a
// failure is rolled back.
func (in *Installer) Run(ctx context.Context, reqs []collection.Requirement, opts Options) (*Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	r := &run{
		Installer: in,
		opts:      opts,
		index:     in.sess.Index(),
		logger:    in.sess.Logger,
		display:   in.sess.Display,
		attempted: make(map[string]bool),
		result:    &Result{},
	}

	batch := sortedByLabel(reqs)
	for pass := 1; len(batch) > 0; pass++ {
		r.logger.Debug("install pass", "pass", pass, "requirements", len(batch))
		var fresh []*collection.Repository
		for _, req := range batch {
			if err := ctx.Err(); err != nil {
				return r.result, err
			}
			repo, err := r.process(ctx, req)
			if err != nil {
				return r.result, err
			}
			if repo != nil {
				fresh = append(fresh, repo)
			}
		}
		if opts.NoDeps {
			break
		}
		batch = r.dependencies(fresh)
	}

	if len(r.result.Installed) == 0 && len(r.result.Failed) == 0 {
		r.display.Info("Nothing to do. All requested content is already installed.")
	}
	return r.result, nil
}

// process runs one requirement to DONE or FAILED. It returns the installed
// repository, nil when nothing was installed, and an error only when the
// run must stop.
func (r *run) process(ctx context.Context, req collection.Requirement) (*collection.Repository, error) {
	repo, state, err := r.attempt(ctx, req)
	if err == nil {
		return repo, nil
	}

	r.logger.Debug("install state", "requirement", req.String(), "state", StateFailed, "from", state, "err", err)
	var nsErr *reqspec.NamespaceRequiredError
	if errors.As(err, &nsErr) || !r.opts.IgnoreErrors {
		return nil, fmt.Errorf("%s: %w", req.RequirementSpec, err)
	}
	r.logger.Warn("skipping failed requirement", "requirement", req.String(), "state", state, "err", err)
	r.display.Warn(fmt.Sprintf("Failed to install %s: %v", req, err))
	r.result.Failed = append(r.result.Failed, Failure{Requirement: req, State: state, Err: err})
	return nil, nil
}

func (r *run) attempt(ctx context.Context, req collection.Requirement) (*collection.Repository, State, error) {
	spec := req.RequirementSpec
	force := r.opts.ForceOverwrite && req.IsTopLevel()
	r.setState(req, StatePending)

	if r.knownIdentity(spec) {
		r.attempted[spec.Label()] = true
		if r.alreadyInstalled(req, spec, force) {
			return nil, StateDone, nil
		}
	}

	strategy, err := r.newStrategy(spec, r.fetchOptions(force))
	if err != nil {
		return nil, StateFind, err
	}
	defer strategy.Cleanup()

	r.setState(req, StateFind)
	found, err := strategy.Find(ctx)
	if err != nil {
		return nil, StateFind, err
	}
	if !found.IdentityPending {
		if done, err := r.afterIdentity(req, spec, found.Spec, force); done || err != nil {
			return nil, StateFind, err
		}
	}

	r.setState(req, StateFetch)
	fetched, err := strategy.Fetch(ctx, found)
	if err != nil {
		return nil, StateFetch, err
	}
	if found.IdentityPending {
		if done, err := r.afterIdentity(req, spec, fetched.Spec, force); done || err != nil {
			return nil, StateFetch, err
		}
	}

	r.setState(req, StateInstall)
	repo, err := r.install(fetched, force)
	if err != nil {
		return nil, StateInstall, err
	}
	r.setState(req, StateDone)
	return repo, StateDone, nil
}

// afterIdentity runs the checks that need the resolved identity: the
// namespace must be known, and content the requirement named only
// indirectly may turn out to be installed already.
func (r *run) afterIdentity(req collection.Requirement, spec collection.RequirementSpec, resolved collection.RepositorySpec, force bool) (bool, error) {
	if resolved.Namespace == "" {
		return false, &reqspec.NamespaceRequiredError{Spec: req.RequirementSpec.String()}
	}
	if r.knownIdentity(spec) {
		return false, nil
	}
	r.attempted[resolved.Label()] = true
	withIdentity := spec
	withIdentity.Namespace, withIdentity.Name = resolved.Namespace, resolved.Name
	if resolved.Version != "" {
		withIdentity.VersionSpec = resolved.Version
	}
	return r.alreadyInstalled(req, withIdentity, force), nil
}

func (r *run) alreadyInstalled(req collection.Requirement, spec collection.RequirementSpec, force bool) bool {
	repo, ok := r.index.Find(spec)
	if !ok || force {
		return false
	}
	r.logger.Debug("already installed", "requirement", req.String(), "path", repo.Path)
	if req.IsTopLevel() {
		r.display.Warn(fmt.Sprintf("%s is already installed, use --force to reinstall", repo.Spec))
	}
	r.result.Skipped = append(r.result.Skipped, req)
	r.setState(req, StateDone)
	return true
}

func (r *run) install(fetched *fetch.FetchResult, force bool) (*collection.Repository, error) {
	spec := fetched.Spec
	if fetched.Linked {
		r.display.Info(fmt.Sprintf("Linked %s to %s", spec, fetched.Path))
	} else {
		dest := collection.CollectionPath(r.sess.CollectionsRoot, spec.Namespace, spec.Name)
		if force {
			if err := os.RemoveAll(dest); err != nil {
				return nil, fmt.Errorf("remove previous install of %s: %w", spec.Label(), err)
			}
		}
		r.display.Info(fmt.Sprintf("Installing %s to %s", spec, dest))
		if _, err := archive.Install(fetched.ArtifactPath, archive.InstallOptions{
			CollectionsRoot: r.sess.CollectionsRoot,
			Spec:            spec,
			Force:           force,
			Now:             r.now,
		}); err != nil {
			return nil, err
		}
		r.display.Info(fmt.Sprintf("%s was installed successfully", spec))
	}
	r.result.Installed = append(r.result.Installed, spec)

	repo, ok := r.index.Get(spec.Namespace, spec.Name)
	if !ok {
		return nil, fmt.Errorf("%s is missing from %s after install", spec.Label(), r.sess.CollectionsRoot)
	}
	return repo, nil
}

// dependencies returns the next batch: the requirements of fresh that are
// neither satisfied by installed content nor attempted already, deduplicated
// and sorted by label.
func (r *run) dependencies(fresh []*collection.Repository) []collection.Requirement {
	seen := make(map[string]bool)
	var next []collection.Requirement
	for _, repo := range fresh {
		for _, req := range repo.Requirements {
			spec := req.RequirementSpec
			key := spec.Label() + "," + spec.Range()
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := r.index.Find(spec); ok {
				r.logger.Debug("dependency already satisfied", "requirement", req.String())
				continue
			}
			if r.knownIdentity(spec) && r.attempted[spec.Label()] {
				if repo, ok := r.index.Get(spec.Namespace, spec.Name); ok && !spec.Allows(repo.Spec.Version) {
					r.conflict(req, repo)
					continue
				}
				r.logger.Debug("skipping requirement attempted earlier in this run", "requirement", req.String())
				continue
			}
			next = append(next, req)
		}
	}
	return sortedByLabel(next)
}

// conflict reports a dependency that the installed version of the same
// collection does not satisfy.
func (r *run) conflict(req collection.Requirement, repo *collection.Repository) {
	r.logger.Warn("dependency not satisfied", "requirement", req.String(), "installed", repo.Spec.Version)
	r.display.Warn(fmt.Sprintf("%s is not satisfied: %s is installed at version %s",
		req, repo.Label(), repo.Spec.Version))
	r.result.Conflicts = append(r.result.Conflicts, req)
}

func (r *run) fetchOptions(force bool) fetch.Options {
	o := r.fetchOpts
	o.Force = force
	return o
}

func (r *run) knownIdentity(spec collection.RequirementSpec) bool {
	return spec.Namespace != "" && spec.Name != ""
}

func (r *run) setState(req collection.Requirement, s State) {
	r.logger.Debug("install state", "requirement", req.String(), "state", s)
}

func sortedByLabel(reqs []collection.Requirement) []collection.Requirement {
	out := slices.Clone(reqs)
	slices.SortStableFunc(out, func(a, b collection.Requirement) int {
		return strings.Compare(a.RequirementSpec.Label(), b.RequirementSpec.Label())
	})
	return out
}
