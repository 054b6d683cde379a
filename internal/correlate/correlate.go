// Package correlate reconstructs investigator-readable sessions from the
// stored artifact records. It runs a single ordered pass over all
// time-bearing records, segments them into sessions by inactivity gap,
// links shortcuts to prior program executions and flags anomalies such as
// files deleted shortly before they were run.
package correlate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/record"
	"github.com/wabproject/wab/internal/timeutil"
)

var log = logrus.WithField("component", "correlate")

const (
	// DefaultSessionGap is the inactivity gap that starts a new session.
	DefaultSessionGap = 120 * time.Second
	// DefaultLinkWindow bounds how far apart an LNK event and the
	// prefetch record it points at may be and still count as linked.
	DefaultLinkWindow = 120 * time.Second
	// DefaultRunCountThreshold marks a program as frequently executed.
	DefaultRunCountThreshold = 50

	// deleteExecWindow is how soon after a recycle-bin sighting a
	// prefetch record for the same name is considered suspicious.
	deleteExecWindow = 300 * time.Second
)

var runCountPattern = regexp.MustCompile(`(?i)run_count\s*=\s*(\d+)`)

// Options tunes a correlation pass. Zero fields fall back to the
// package defaults.
type Options struct {
	SessionGap        time.Duration
	LinkWindow        time.Duration
	RunCountThreshold int64
}

func (o Options) withDefaults() Options {
	if o.SessionGap <= 0 {
		o.SessionGap = DefaultSessionGap
	}
	if o.LinkWindow <= 0 {
		o.LinkWindow = DefaultLinkWindow
	}
	if o.RunCountThreshold <= 0 {
		o.RunCountThreshold = DefaultRunCountThreshold
	}
	return o
}

// Source supplies records for correlation in ascending event-time order.
// *database.SQLiteStore and *database.PostgresStore both satisfy it.
type Source interface {
	QueryForCorrelation(ctx context.Context) ([]*model.ArtifactRecord, error)
}

// Run correlates every stored record into a session-tagged event stream.
// A failure reading the source never propagates; it surfaces as a single
// synthetic error event in the stream.
func Run(ctx context.Context, src Source, opts Options) []model.CorrelatedEvent {
	recs, err := src.QueryForCorrelation(ctx)
	if err != nil {
		log.WithError(err).Error("correlation query failed")
		return []model.CorrelatedEvent{{
			Timestamp:    timeutil.FormatISO(time.Now().UTC()),
			ArtifactType: "error",
			Detail:       fmt.Sprintf("Correlator error: %v (see logs).", err),
			Anomaly:      "error",
			Session:      0,
		}}
	}

	p := newPass(opts)
	for _, rec := range recs {
		p.observe(rec)
	}

	events := p.events
	// Session numbering is a side effect of sequential processing; re-sort
	// so callers can rely on the output order even when a stored timestamp
	// did not parse the way the store collated it.
	sort.SliceStable(events, func(i, j int) bool {
		ti, _ := timeutil.ParseFlexible(events[i].Timestamp)
		tj, _ := timeutil.ParseFlexible(events[j].Timestamp)
		return ti.Before(tj)
	})
	return events
}

// sighting remembers when a name was last seen and as what artifact type.
type sighting struct {
	at           time.Time
	artifactType string
}

// prefetchSighting remembers the newest prefetch record per executable.
type prefetchSighting struct {
	at   time.Time
	name string
}

// pass holds the mutable state of one correlation run. Scoping it to a
// value per run keeps concurrent correlations independent.
type pass struct {
	opts      Options
	sessionID int
	lastTime  time.Time
	haveLast  bool

	lastSeenByName    map[string]sighting
	lastPrefetchByExe map[string]prefetchSighting

	events []model.CorrelatedEvent
}

func newPass(opts Options) *pass {
	return &pass{
		opts:              opts.withDefaults(),
		sessionID:         1,
		lastSeenByName:    make(map[string]sighting),
		lastPrefetchByExe: make(map[string]prefetchSighting),
	}
}

// observe folds one record into the pass, emitting a correlated event
// unless the record cannot be placed in time.
func (p *pass) observe(rec *model.ArtifactRecord) {
	t, ok := rowTime(rec)
	if !ok {
		return
	}

	if p.haveLast && t.Sub(p.lastTime) > p.opts.SessionGap {
		p.sessionID++
	}
	p.lastTime = t
	p.haveLast = true

	artifactType := strings.ToLower(rec.ArtifactType)
	name := rec.Name
	kv := record.ParseExtra(rec.Extra)

	runCount, haveRunCount := resolveRunCount(rec, kv)
	exePath := firstNonEmpty(kv["exe"], kv["exe_path"], kv["executable"], kv["targetexe"])
	target := firstNonEmpty(kv["target"], kv["arguments"], kv["lnk_target"])

	var base string
	var anomalies []string

	switch {
	case strings.Contains(artifactType, "prefetch"):
		if haveRunCount {
			base = fmt.Sprintf("🚀 Executed Program (runs: %d)", runCount)
		} else {
			base = "🚀 Executed Program"
		}
		if exePath != "" {
			key := strings.ToLower(exePath)
			p.lastPrefetchByExe[key] = prefetchSighting{at: t, name: name}
			baseKey := strings.ToLower(record.WinBase(exePath))
			if _, seen := p.lastPrefetchByExe[baseKey]; !seen {
				p.lastPrefetchByExe[baseKey] = prefetchSighting{at: t, name: name}
			}
		}
	case strings.Contains(artifactType, "lnk"):
		base = "🔗 Shortcut / LNK"
	case strings.Contains(artifactType, "recycle"):
		base = "🗑 Recycle Bin (deleted file)"
	case strings.Contains(artifactType, "shellbag"):
		base = "📂 Folder Viewed"
	case artifactType == "":
		base = "🕵️ artifact"
	default:
		base = "🕵️ " + artifactType
	}

	// A target pointing at an executable we saw prefetched nearby means
	// the shortcut and the execution belong together.
	relation := ""
	if target != "" {
		norm := strings.ToLower(strings.Trim(strings.TrimSpace(target), `"`))
		pref, seen := p.lastPrefetchByExe[norm]
		if !seen {
			pref, seen = p.lastPrefetchByExe[strings.ToLower(record.WinBase(norm))]
		}
		if seen {
			delta := t.Sub(pref.at)
			if delta < 0 {
				delta = -delta
			}
			if delta <= p.opts.LinkWindow {
				relation = fmt.Sprintf("(Linked to Prefetch: %s)", pref.name)
			}
		}
	}

	if strings.Contains(artifactType, "prefetch") {
		if prev, seen := p.lastSeenByName[name]; seen && strings.Contains(prev.artifactType, "recycle") {
			delta := t.Sub(prev.at)
			if delta >= 0 && delta <= deleteExecWindow {
				anomalies = append(anomalies, "⚠ Deleted -> Executed soon after")
			}
		}
	}
	if haveRunCount && runCount >= p.opts.RunCountThreshold {
		anomalies = append(anomalies, "⚠ Frequently executed (high run_count)")
	}

	parts := []string{fmt.Sprintf("[Session %d] %s", p.sessionID, base)}
	if name != "" {
		parts = append(parts, name)
	}
	if rec.Path != "" {
		parts = append(parts, "| "+rec.Path)
	}
	if exePath != "" {
		parts = append(parts, "| exe="+exePath)
	}
	if target != "" {
		parts = append(parts, "| target="+target)
	}
	if hint := extraHint(kv); hint != "" {
		parts = append(parts, "| "+hint)
	}
	if relation != "" {
		parts = append(parts, relation)
	}

	p.events = append(p.events, model.CorrelatedEvent{
		Timestamp:    timeutil.FormatISO(t),
		ArtifactType: artifactType,
		Detail:       strings.Join(parts, " "),
		Anomaly:      strings.Join(anomalies, "; "),
		Session:      p.sessionID,
	})

	if name != "" {
		p.lastSeenByName[name] = sighting{at: t, artifactType: artifactType}
	}
}

// rowTime picks the first parseable of timestamp and last_access.
func rowTime(rec *model.ArtifactRecord) (time.Time, bool) {
	for _, raw := range []string{rec.Timestamp, rec.LastAccess} {
		if raw == "" {
			continue
		}
		if t, ok := timeutil.ParseFlexible(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveRunCount prefers the explicit column, then the extra key-value
// map (tolerating junk around the digits), then a regex scan of the raw
// extra string.
func resolveRunCount(rec *model.ArtifactRecord, kv map[string]string) (int64, bool) {
	if rec.RunCount != nil {
		return *rec.RunCount, true
	}
	if raw, ok := kv["run_count"]; ok {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, raw)
		if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
			return n, true
		}
	}
	if m := runCountPattern.FindStringSubmatch(rec.Extra); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// extraHint keeps a compact trace of selected extra keys in the detail.
func extraHint(kv map[string]string) string {
	var parts []string
	for _, k := range []string{"source", "pref_hash", "files_count", "volumes_count"} {
		if v, ok := kv[k]; ok {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
