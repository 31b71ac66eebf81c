package bakery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relves/macaroons/pkg/macaroon"
)

const defaultCacheSize = 1024

// ErrConditionNotRecognized is returned when a root key carries a condition
// no checker was registered for. An unknown condition is never discharged.
var ErrConditionNotRecognized = errors.New("condition not recognized")

// CheckerFunc decides whether the condition attached to a third-party caveat
// holds right now. It may return additional first-party caveats, which are
// appended to the minted discharge to narrow the contexts it is valid in.
type CheckerFunc func(ctx context.Context, caveatID []byte, condition string) ([]*macaroon.FirstPartyCaveat, error)

// Service is a discharge service. Target services register the root key and
// condition of each third-party caveat they mint via ExpectDischarge;
// clients later collect discharge credentials via Discharge and bind them to
// their primary credential.
type Service struct {
	store    RootKeyStore
	scheme   macaroon.Scheme
	location string
	logger   *slog.Logger

	mu       sync.RWMutex
	checkers map[string]CheckerFunc

	// cache holds discharges for caveats registered without a condition;
	// those are pure functions of the stored root key.
	cache *lru.Cache[string, *macaroon.Macaroon]
}

// NewService creates a discharge service over the given root key store.
func NewService(store RootKeyStore, opts ...Option) (*Service, error) {
	cfg := applyOptions(opts...)
	s := &Service{
		store:    store,
		scheme:   cfg.Scheme,
		location: cfg.Location,
		logger:   cfg.Logger,
		checkers: make(map[string]CheckerFunc),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, *macaroon.Macaroon](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("init discharge cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Location returns the location hint stamped on minted discharges.
func (s *Service) Location() string {
	return s.location
}

// RegisterChecker installs the checker consulted for root keys carrying the
// given condition.
func (s *Service) RegisterChecker(condition string, checker CheckerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[condition] = checker
}

// ExpectDischarge registers the root key and condition of a third-party
// caveat a target service has minted, so this service can discharge it
// later.
func (s *Service) ExpectDischarge(ctx context.Context, caveatID []byte, rootKey, condition string) error {
	if len(caveatID) == 0 {
		return errors.New("empty caveat identifier")
	}
	if rootKey == "" {
		return errors.New("empty root key")
	}
	if err := s.store.Put(ctx, caveatID, RootKey{Key: rootKey, Condition: condition}); err != nil {
		return fmt.Errorf("store root key: %w", err)
	}
	if s.cache != nil {
		s.cache.Remove(string(caveatID))
	}
	s.logger.Debug("registered discharge expectation",
		"caveat_id", string(caveatID), "condition", condition)
	return nil
}

// Discharge mints the discharge credential for a third-party caveat. The
// registered condition is checked first; any caveats the checker returns are
// appended to the discharge before it is handed out.
func (s *Service) Discharge(ctx context.Context, caveatID []byte) (*macaroon.Macaroon, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(string(caveatID)); ok {
			return cached.Clone(), nil
		}
	}

	record, err := s.store.Get(ctx, caveatID)
	if err != nil {
		return nil, err
	}

	extraCaveats, err := s.checkCondition(ctx, caveatID, record.Condition)
	if err != nil {
		s.logger.Info("discharge refused",
			"caveat_id", string(caveatID), "condition", record.Condition, "error", err)
		return nil, err
	}

	discharge, err := macaroon.MintWithScheme(s.scheme, record.Key, caveatID, s.location)
	if err != nil {
		return nil, fmt.Errorf("mint discharge: %w", err)
	}
	for _, caveat := range extraCaveats {
		if _, err := discharge.AddFirstPartyCaveat(caveat); err != nil {
			return nil, fmt.Errorf("attenuate discharge: %w", err)
		}
	}

	if s.cache != nil && record.Condition == "" {
		s.cache.Add(string(caveatID), discharge.Clone())
	}
	s.logger.Debug("minted discharge", "caveat_id", string(caveatID))
	return discharge, nil
}

func (s *Service) checkCondition(ctx context.Context, caveatID []byte, condition string) ([]*macaroon.FirstPartyCaveat, error) {
	if condition == "" {
		return nil, nil
	}
	s.mu.RLock()
	checker, ok := s.checkers[condition]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConditionNotRecognized, condition)
	}
	return checker(ctx, caveatID, condition)
}
