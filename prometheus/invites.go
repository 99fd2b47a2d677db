package prometheus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// RewardTier is one row of the static reward tier table. Tiers are ordered
// by ascending MinInvites; a member's tier is the greatest row whose
// threshold their invite count has reached.
type RewardTier struct {
	ID         string  `yaml:"id" mapstructure:"id" json:"id" binding:"required"`
	MinInvites int     `yaml:"min_invites" mapstructure:"min_invites" json:"min_invites" binding:"min=1"`
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier" json:"multiplier"`
}

// DefaultTierTable returns the standing tier table used when the
// configuration doesn't override it.
func DefaultTierTable() []RewardTier {
	return []RewardTier{
		{ID: "2-tier", MinInvites: 2, Multiplier: 1.00},
		{ID: "5-tier", MinInvites: 5, Multiplier: 1.00},
		{ID: "10-tier", MinInvites: 10, Multiplier: 1.05},
	}
}

// InviteRecord is one member's standing in the referral program.
type InviteRecord struct {
	Invites  int     `json:"invites"`
	KCredits float64 `json:"kcredits"`
	Tier     string  `json:"tier,omitempty"`
}

func (r InviteRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("invites", r.Invites),
		slog.Float64("kcredits", r.KCredits),
		slog.String("tier", r.Tier),
	)
}

// CreditResult reports the outcome of crediting one invite.
type CreditResult struct {
	ReferrerID string
	Invites    int
	Tier       string
	TierChange bool
	Gain       float64
	Total      float64
}

// InviteLedger is the referral reward ledger. All mutations persist the full
// ledger file before returning, so a crash can never lose a credited invite
// that the caller already saw succeed.
type InviteLedger struct {
	mu         sync.Mutex
	path       string
	baseReward float64
	tiers      []RewardTier
	records    map[string]*InviteRecord
	logger     *slog.Logger
}

func newInviteLedger(
	path string,
	cfg InviteProgramConfig,
	logger *slog.Logger,
) (*InviteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &InviteLedger{
		path:       path,
		baseReward: cfg.BaseReward,
		tiers:      cfg.Tiers,
		records:    map[string]*InviteRecord{},
		logger:     logger.With(loggerNameKey, "invite_ledger"),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("no ledger file, starting empty", "path", path)
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	if l.records == nil {
		l.records = map[string]*InviteRecord{}
	}
	return l, nil
}

// roundCredits rounds to 2 decimal places, half away from zero. All credit
// arithmetic passes through here so ledger totals stay presentable.
func roundCredits(v float64) float64 {
	return math.Round(v*100) / 100
}

// tierFor returns the greatest tier whose threshold invites has reached, or
// the zero tier when below every threshold.
func (l *InviteLedger) tierFor(invites int) RewardTier {
	var current RewardTier
	for _, t := range l.tiers {
		if invites >= t.MinInvites {
			current = t
		}
	}
	return current
}

// CreditInvite records one successful referral for referrerID: increments
// the invite count, recomputes the tier, applies the tier multiplier to the
// base reward, and persists the ledger before returning.
func (l *InviteLedger) CreditInvite(referrerID string) (CreditResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[referrerID]
	if !ok {
		rec = &InviteRecord{}
		l.records[referrerID] = rec
	}
	previousTier := rec.Tier
	rec.Invites++

	tier := l.tierFor(rec.Invites)
	multiplier := tier.Multiplier
	if multiplier == 0 {
		multiplier = 1.0
	}
	rec.Tier = tier.ID

	gain := roundCredits(l.baseReward * multiplier)
	rec.KCredits = roundCredits(rec.KCredits + gain)

	if err := l.persistLocked(); err != nil {
		// roll back so the in-memory state matches the file
		rec.Invites--
		rec.Tier = previousTier
		rec.KCredits = roundCredits(rec.KCredits - gain)
		return CreditResult{}, fmt.Errorf("persisting ledger: %w", err)
	}

	result := CreditResult{
		ReferrerID: referrerID,
		Invites:    rec.Invites,
		Tier:       rec.Tier,
		TierChange: rec.Tier != previousTier,
		Gain:       gain,
		Total:      rec.KCredits,
	}
	l.logger.Info(
		"invite credited",
		"referrer_id", result.ReferrerID,
		"invites", result.Invites,
		"tier", result.Tier,
		"gain", result.Gain,
		"total", result.Total,
	)
	return result, nil
}

// Standing returns the current record for userID, reporting whether the
// member appears in the ledger at all.
func (l *InviteLedger) Standing(userID string) (InviteRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[userID]
	if !ok {
		return InviteRecord{}, false
	}
	return *rec, true
}

// Size returns the number of members in the ledger.
func (l *InviteLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *InviteLedger) persistLocked() error {
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// InviteUseCache tracks invite use counts for the guild so a member join can
// be attributed to the invite whose use count went up. The cache is memory
// only; it is primed at startup (or via /setup-invite-program) and rebuilt
// after every diff.
type InviteUseCache struct {
	mu   sync.Mutex
	uses map[string]inviteSnapshot
}

type inviteSnapshot struct {
	uses      int
	inviterID string
}

func newInviteUseCache() *InviteUseCache {
	return &InviteUseCache{uses: map[string]inviteSnapshot{}}
}

// Prime replaces the snapshot with the given invite list.
func (c *InviteUseCache) Prime(invites []*discordgo.Invite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uses = snapshotInvites(invites)
}

// Consume diffs the fresh invite list against the snapshot, returning the
// inviter of the invite whose use count increased. The snapshot is rebuilt
// from the fresh list either way. A deleted one-use invite or an unprimed
// cache yields ok=false; the join simply goes unattributed.
func (c *InviteUseCache) Consume(invites []*discordgo.Invite) (
	inviterID string,
	ok bool,
) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, inv := range invites {
		if inv == nil || inv.Inviter == nil {
			continue
		}
		prev, known := c.uses[inv.Code]
		if known && inv.Uses > prev.uses {
			inviterID = inv.Inviter.ID
			ok = true
			break
		}
		if !known && inv.Uses > 0 && len(c.uses) > 0 {
			// invite created and used between snapshots
			inviterID = inv.Inviter.ID
			ok = true
			break
		}
	}
	c.uses = snapshotInvites(invites)
	return inviterID, ok
}

func snapshotInvites(invites []*discordgo.Invite) map[string]inviteSnapshot {
	uses := make(map[string]inviteSnapshot, len(invites))
	for _, inv := range invites {
		if inv == nil {
			continue
		}
		snap := inviteSnapshot{uses: inv.Uses}
		if inv.Inviter != nil {
			snap.inviterID = inv.Inviter.ID
		}
		uses[inv.Code] = snap
	}
	return uses
}
