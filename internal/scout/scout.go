// Package scout implements the first stage of a run (spec.md §4.1): walk
// the filesystem, seed the cache manifest, fan out analysis jobs paused,
// then resume them once the manifest is durable.
package scout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/korrelate/triangulate/internal/analysis"
	"github.com/korrelate/triangulate/internal/cache"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/ids"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
)

// Options configures one walk (spec.md §4.1's "options" argument).
type Options struct {
	IncludeGlobs       []string
	ExcludeGlobs       []string
	MaxConcurrentReads int
	LeaseTTL           time.Duration
	LeaseRenewal       time.Duration
}

// Scout owns the start contract: start(runId, rootPath, options) -> Ok | Err.
type Scout struct {
	files    *store.FilesRepository
	runs     *store.RunRepository
	manifest *cache.Manifest
	queue    *queue.Queue
	lease    *cache.Lease
	opts     Options
	logger   *zap.Logger
}

func New(files *store.FilesRepository, runs *store.RunRepository, manifest *cache.Manifest, q *queue.Queue, lease *cache.Lease, opts Options, logger *zap.Logger) *Scout {
	return &Scout{files: files, runs: runs, manifest: manifest, queue: q, lease: lease, opts: opts, logger: logger}
}

type discoveredFile struct {
	path     string // relative to rootPath
	abs      string
	language string
	checksum string
}

// Start implements internal/api.Starter so the operator API's POST /runs
// can trigger a walk without importing this package's job-fan-out
// machinery directly.
func (s *Scout) Start(ctx context.Context, rootPath string) (string, error) {
	runID := uuid.NewString()
	owner := runID

	acquired, err := s.lease.Acquire(ctx, rootPath, owner, s.opts.LeaseTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", pipelineerrors.NewInvariantViolationError("a scout walk is already in progress for this root path")
	}
	lost := s.lease.KeepAlive(ctx, rootPath, owner, s.opts.LeaseTTL, s.opts.LeaseRenewal)
	defer s.lease.Release(ctx, rootPath, owner)

	if err := s.run(ctx, runID, rootPath, lost); err != nil {
		_ = s.runs.Finalize(ctx, runID, store.RunStatusFailed)
		return "", err
	}
	return runID, nil
}

func (s *Scout) run(ctx context.Context, runID, rootPath string, lost <-chan struct{}) error {
	select {
	case <-lost:
		return pipelineerrors.NewFatalContractError("lease lost before the walk began")
	default:
	}

	files, dirs, filesByDir, err := s.walk(rootPath)
	if err != nil {
		return err
	}

	files, err = s.checksumAll(ctx, rootPath, files)
	if err != nil {
		return err
	}

	totalJobs := len(files) + len(dirs)
	if totalJobs > 0 {
		totalJobs++ // the global-analysis job
	}
	if err := s.runs.Create(ctx, runID, rootPath, totalJobs); err != nil {
		return err
	}

	for _, f := range files {
		if err := s.files.Upsert(ctx, store.File{
			ID: ids.FileID(runID, f.path), RunID: runID, Path: f.path, Checksum: f.checksum, Language: f.language,
		}); err != nil {
			return err
		}
	}

	cfgJSON, err := json.Marshal(runManifestConfig{
		RootPath:     rootPath,
		IncludeGlobs: s.opts.IncludeGlobs,
		ExcludeGlobs: s.opts.ExcludeGlobs,
		FileCount:    len(files),
		DirCount:     len(dirs),
	})
	if err != nil {
		return pipelineerrors.NewInternal(err)
	}
	if err := s.manifest.WriteConfig(ctx, runID, string(cfgJSON)); err != nil {
		return err
	}

	if totalJobs == 0 {
		// Empty root: nothing to gate the graph-build job on, so it must
		// become runnable immediately rather than waiting on a
		// completeChild transition that will never fire (spec.md §7
		// "Empty root directory" scenario).
		graphBuildID, err := s.enqueueGraphBuild(ctx, runID)
		if err != nil {
			return err
		}
		return s.queue.Resume(ctx, []string{graphBuildID})
	}

	graphBuildID, err := s.enqueueGraphBuild(ctx, runID)
	if err != nil {
		return err
	}

	var fileJobIDs, dirJobIDs []string
	for _, f := range files {
		jobID := ids.FileID(runID, f.path)
		if _, err := s.queue.Enqueue(ctx, queue.NewJobOptions{
			ID: jobID, RunID: runID, Queue: queue.QueueFileAnalysis, Type: queue.JobTypeFileAnalysis,
			Payload: analysis.JobPayload{FilePaths: []string{f.path}, Prompt: s.filePrompt(f)},
			Paused:  true, ParentID: graphBuildID,
		}); err != nil {
			return err
		}
		if err := s.manifest.SetFileToJob(ctx, runID, f.path, jobID); err != nil {
			return err
		}
		fileJobIDs = append(fileJobIDs, jobID)
	}

	for _, d := range dirs {
		jobID := dirJobID(runID, d)
		paths := filesByDir[d]
		if _, err := s.queue.Enqueue(ctx, queue.NewJobOptions{
			ID: jobID, RunID: runID, Queue: queue.QueueDirectoryAnalysis, Type: queue.JobTypeDirectoryAnalysis,
			Payload: analysis.JobPayload{FilePaths: paths, Prompt: directoryPrompt(d, paths)},
			Paused:  true, ParentID: graphBuildID,
		}); err != nil {
			return err
		}
		dirJobIDs = append(dirJobIDs, jobID)
	}

	globalJobID := globalJobID(runID)
	allPaths := make([]string, len(files))
	for i, f := range files {
		allPaths[i] = f.path
	}
	if _, err := s.queue.Enqueue(ctx, queue.NewJobOptions{
		ID: globalJobID, RunID: runID, Queue: queue.QueueGlobalAnalysis, Type: queue.JobTypeGlobalAnalysis,
		Payload: analysis.JobPayload{FilePaths: allPaths, Prompt: globalPrompt(rootPath, allPaths)},
		Paused:  true, ParentID: graphBuildID,
	}); err != nil {
		return err
	}

	if err := s.manifest.AddJobIDs(ctx, runID, "files", fileJobIDs); err != nil {
		return err
	}
	if err := s.manifest.AddJobIDs(ctx, runID, "dirs", dirJobIDs); err != nil {
		return err
	}
	if err := s.manifest.AddJobIDs(ctx, runID, "global", []string{globalJobID}); err != nil {
		return err
	}

	select {
	case <-lost:
		return pipelineerrors.NewFatalContractError("lease lost before the manifest could be resumed")
	default:
	}

	all := append(append(append([]string{}, fileJobIDs...), dirJobIDs...), globalJobID)
	return s.queue.Resume(ctx, all)
}

func (s *Scout) enqueueGraphBuild(ctx context.Context, runID string) (string, error) {
	job, err := s.queue.Enqueue(ctx, queue.NewJobOptions{
		RunID: runID, Queue: queue.QueueGraphBuild, Type: queue.JobTypeGraphBuild,
		Payload: store.ReconcileJobPayload{RunID: runID}, Paused: true,
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

type runManifestConfig struct {
	RootPath     string   `json:"root_path"`
	IncludeGlobs []string `json:"include_globs"`
	ExcludeGlobs []string `json:"exclude_globs"`
	FileCount    int      `json:"file_count"`
	DirCount     int      `json:"dir_count"`
}

// walk enumerates rootPath honoring include/exclude globs, returning the
// discovered files (relative path, absolute path) and the set of unique
// directories containing at least one included file (spec.md §4.1 steps
// 1-2). An unreadable root is a fatal IOError; an unreadable individual
// file is logged and skipped.
func (s *Scout) walk(rootPath string) ([]discoveredFile, []string, map[string][]string, error) {
	includes, err := compileGlobs(s.opts.IncludeGlobs)
	if err != nil {
		return nil, nil, nil, pipelineerrors.NewValidationError("invalid include glob").WithDetails(err.Error())
	}
	excludes, err := compileGlobs(s.opts.ExcludeGlobs)
	if err != nil {
		return nil, nil, nil, pipelineerrors.NewValidationError("invalid exclude glob").WithDetails(err.Error())
	}

	if _, err := os.Stat(rootPath); err != nil {
		return nil, nil, nil, pipelineerrors.Wrap(err, pipelineerrors.ErrorTypeNetwork, "root path is unreadable")
	}

	var files []discoveredFile
	dirSet := make(map[string]struct{})

	walkErr := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == rootPath {
				return err
			}
			s.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			rel = path
		}
		if !matchesAny(includes, rel) || matchesAny(excludes, rel) {
			return nil
		}

		files = append(files, discoveredFile{path: rel, abs: path, language: languageFor(rel)})
		dirSet[filepath.Dir(rel)] = struct{}{}
		return nil
	})
	if walkErr != nil {
		return nil, nil, nil, pipelineerrors.Wrap(walkErr, pipelineerrors.ErrorTypeNetwork, "failed to walk root path")
	}

	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		if d == "." {
			continue
		}
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	filesByDir := make(map[string][]string, len(dirs))
	for _, f := range files {
		dir := filepath.Dir(f.path)
		if dir == "." {
			continue
		}
		filesByDir[dir] = append(filesByDir[dir], f.path)
	}

	return files, dirs, filesByDir, nil
}

// checksumAll computes each discovered file's content hash concurrently,
// bounded by MaxConcurrentReads. A file that vanishes between the walk
// and the read (spec.md §7 scenario E) is logged and dropped rather than
// failing the whole run — the self-cleaning reconciler will never see it
// since it was never upserted into the files table.
func (s *Scout) checksumAll(ctx context.Context, rootPath string, files []discoveredFile) ([]discoveredFile, error) {
	g, gctx := errgroup.WithContext(ctx)
	if s.opts.MaxConcurrentReads > 0 {
		g.SetLimit(s.opts.MaxConcurrentReads)
	}

	checksums := make([]string, len(files))
	vanished := make([]bool, len(files))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			sum, err := checksumFile(f.abs)
			if err != nil {
				s.logger.Warn("file vanished before checksumming", zap.String("path", f.path), zap.Error(err))
				vanished[i] = true
				return nil
			}
			checksums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, pipelineerrors.NewTransientError("checksum files", err)
	}

	out := make([]discoveredFile, 0, len(files))
	for i, f := range files {
		if vanished[i] {
			continue
		}
		f.checksum = checksums[i]
		out = append(out, f)
	}
	return out, nil
}

// filePrompt builds the File-scope prompt (spec.md §4.2 step 1 "read
// source content for the job's scope"). A file that disappeared between
// the walk and here still has a job created for it — Process will hit
// the same vanished-file path and surface a FatalErr, which is the
// correct outcome for spec.md §7 scenario E.
func (s *Scout) filePrompt(f discoveredFile) string {
	content, err := os.ReadFile(f.abs)
	if err != nil {
		s.logger.Warn("file vanished before prompt assembly", zap.String("path", f.path), zap.Error(err))
		return filePromptTemplate(f.path, "")
	}
	return filePromptTemplate(f.path, string(content))
}

func filePromptTemplate(path, content string) string {
	return "Identify code relationships (CALLS, DEFINES, IMPORTS, USES, EXTENDS, IMPLEMENTS, REFERENCES) in file " +
		path + ":\n\n" + content
}

func directoryPrompt(dir string, paths []string) string {
	return "Identify code relationships between the declared symbols of the files in directory " +
		dir + ": " + joinPaths(paths)
}

func globalPrompt(rootPath string, paths []string) string {
	return "Identify cross-cutting architectural relationships across the repository rooted at " +
		rootPath + " spanning " + joinPaths(paths)
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func checksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

var languageByExt = map[string]string{
	".go": "go", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".py": "python",
	".java": "java", ".rb": "ruby", ".rs": "rust", ".c": "c",
	".h": "c", ".cpp": "cpp", ".hpp": "cpp", ".cs": "csharp",
	".php": "php", ".kt": "kotlin", ".swift": "swift",
}

func languageFor(path string) string {
	if lang, ok := languageByExt[filepath.Ext(path)]; ok {
		return lang
	}
	return "unknown"
}

func dirJobID(runID, relPath string) string {
	sum := sha256.Sum256([]byte(runID + "|dir|" + relPath))
	return hex.EncodeToString(sum[:])
}

func globalJobID(runID string) string {
	sum := sha256.Sum256([]byte(runID + "|global"))
	return hex.EncodeToString(sum[:])
}
