package logger

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Datapath log categories.
const (
	CategoryBeat  = "beat"
	CategoryFetch = "fetch"
	CategorySwap  = "swap"
	CategoryCheck = "check"
)

// SampleRule limits one log category. Within each Window the first Burst entries are
// logged; after that only every Every-th entry is, or none when Every is 0.
type SampleRule struct {
	Category string
	Window   time.Duration
	Burst    int
	Every    int
}

type sampler struct {
	rule SampleRule

	mu          sync.Mutex
	windowStart time.Time
	inWindow    int
	skipped     int
	suppressed  int64 // dropped since the last logged entry
	dropped     int64
}

// allow reports whether an entry may be logged and how many were dropped before it.
func (s *sampler) allow(now time.Time) (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.windowStart) >= s.rule.Window {
		s.windowStart = now
		s.inWindow = 0
		s.skipped = 0
	}

	ok := s.inWindow < s.rule.Burst
	if ok {
		s.inWindow++
	} else if s.rule.Every > 0 {
		s.skipped++
		if s.skipped >= s.rule.Every {
			s.skipped = 0
			ok = true
		}
	}

	if !ok {
		s.suppressed++
		s.dropped++
		return false, 0
	}
	n := s.suppressed
	s.suppressed = 0
	return true, n
}

// SampledLogger rate-limits per-cycle categories so a bench stepping at full speed
// does not drown the log. Loggers derived with WithFields share the samplers.
type SampledLogger struct {
	Logger
	samplers map[string]*sampler
	now      func() time.Time
}

// NewSampledLogger wraps base with one sampler per rule. Categories without a rule are
// never sampled.
func NewSampledLogger(base Logger, rules ...SampleRule) *SampledLogger {
	samplers := make(map[string]*sampler, len(rules))
	for _, r := range rules {
		samplers[r.Category] = &sampler{rule: r}
	}
	return &SampledLogger{Logger: base, samplers: samplers, now: time.Now}
}

// NewBusLogger samples the per-beat and per-frame categories. Check results are
// never sampled.
func NewBusLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base,
		SampleRule{Category: CategoryBeat, Window: time.Second, Burst: 32, Every: 1000},
		SampleRule{Category: CategoryFetch, Window: time.Second, Burst: 16, Every: 100},
		SampleRule{Category: CategorySwap, Window: time.Second, Burst: 16, Every: 100},
	)
}

func (s *SampledLogger) derive(base Logger) *SampledLogger {
	return &SampledLogger{Logger: base, samplers: s.samplers, now: s.now}
}

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return s.derive(s.Logger.WithFields(fields))
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return s.derive(s.Logger.WithField(key, value))
}

func (s *SampledLogger) WithError(err error) Logger {
	return s.derive(s.Logger.WithError(err))
}

// DebugWithCategory logs msg at debug level if the category's sampler allows it.
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.logSampled(logrus.DebugLevel, category, msg, fields)
}

// InfoWithCategory logs msg at info level if the category's sampler allows it.
func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.logSampled(logrus.InfoLevel, category, msg, fields)
}

// ErrorWithCategory always logs.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	s.Logger.WithFields(withCategory(category, fields)).Error(msg)
}

// Dropped returns the number of entries of category the sampler has dropped.
func (s *SampledLogger) Dropped(category string) int64 {
	sm, ok := s.samplers[category]
	if !ok {
		return 0
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.dropped
}

func (s *SampledLogger) logSampled(level logrus.Level, category, msg string, fields map[string]interface{}) {
	fields = withCategory(category, fields)
	if sm, ok := s.samplers[category]; ok {
		allowed, suppressed := sm.allow(s.now())
		if !allowed {
			return
		}
		if suppressed > 0 {
			fields["suppressed"] = suppressed
		}
	}
	s.Logger.WithFields(fields).Log(level, msg)
}

func withCategory(category string, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category
	return out
}
