package prometheus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Catalog file names. These match the layout the operator already maintains,
// so an existing data directory keeps working without migration.
const (
	assetsFile     = "assets.json"
	collabsFile    = "workwith.json"
	channelsFile   = "channels.json"
	clientsFile    = "clients.json"
	identitiesFile = "identities.json"
	ticketsFile    = "tickets.json"
	botConfigFile  = "config.json"
	invitesFile    = "invites.json"
)

// catalogBackupFiles is the set of data files copied by Backup.
var catalogBackupFiles = []string{
	assetsFile,
	clientsFile,
	collabsFile,
	channelsFile,
	identitiesFile,
	ticketsFile,
	invitesFile,
}

const maxSearchResults = 20

// LocalizedText is a catalog field that may be either a bare string or an
// object of language-tagged strings ({"en": "...", ...}). English wins when
// present, otherwise the first key in sorted order.
type LocalizedText string

func (t *LocalizedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = LocalizedText(s)
		return nil
	}
	var byLang map[string]string
	if err := json.Unmarshal(data, &byLang); err != nil {
		return fmt.Errorf("localized text: %w", err)
	}
	if v, ok := byLang["en"]; ok {
		*t = LocalizedText(v)
		return nil
	}
	keys := make([]string, 0, len(byLang))
	for k := range byLang {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		*t = LocalizedText(byLang[keys[0]])
	}
	return nil
}

func (t LocalizedText) String() string {
	return string(t)
}

// Asset is one archived artifact presented by /present.
type Asset struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description LocalizedText `json:"description"`
	Format      string        `json:"format"`
	Status      LocalizedText `json:"status"`
	Version     string        `json:"version"`
	License     string        `json:"license"`
	Author      string        `json:"author"`
	Date        string        `json:"date"`
	Color       int           `json:"color"`

	// Model-specific fields, shown only when Type names a model.
	Polycount string `json:"polycount,omitempty"`
	Rig       string `json:"rig,omitempty"`
	Animation string `json:"animation,omitempty"`
	Software  string `json:"software,omitempty"`

	// Preview and Video are either a URL or the literal "attachment",
	// meaning the invoker supplies the file as a command option.
	Preview string `json:"preview,omitempty"`
	Video   string `json:"video,omitempty"`
}

// Collab is an external-team collaboration presented by /work.
type Collab struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Contribution string `json:"contribution"`
	Discord      string `json:"discord"`
	Preview      string `json:"preview,omitempty"`
	Video        string `json:"video,omitempty"`
}

// Client is a client showcase entry presented by /client.
type Client struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Tasks string `json:"tasks"`
	Quote string `json:"quote,omitempty"`
	Color int    `json:"color,omitempty"`
	Proof string `json:"proof,omitempty"`
}

// ChannelInfo is a channel description card presented by /channel.
type ChannelInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Identity is a team member profile presented by /whois.
type Identity struct {
	Name                 string            `json:"name"`
	Role                 string            `json:"role"`
	Image                string            `json:"image,omitempty"`
	Color                int               `json:"color,omitempty"`
	PresentationMarkdown string            `json:"presentation_markdown,omitempty"`
	Links                map[string]string `json:"links,omitempty"`
}

// CatalogSnapshot is one immutable view of all catalog maps. Handlers take a
// snapshot once per interaction so a concurrent /reload can never produce a
// torn read.
type CatalogSnapshot struct {
	Assets     map[string]Asset
	Collabs    map[string]Collab
	Clients    map[string]Client
	Channels   map[string]ChannelInfo
	Identities map[string]Identity
	LoadedAt   time.Time
}

// CatalogStore loads the flat JSON catalogs and serves immutable snapshots.
// Reload parses everything before swapping, so a malformed file leaves the
// previous snapshot in place.
type CatalogStore struct {
	dir      string
	logger   *slog.Logger
	snapshot atomic.Pointer[CatalogSnapshot]
}

func newCatalogStore(dir string, logger *slog.Logger) *CatalogStore {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CatalogStore{dir: dir, logger: logger.With(loggerNameKey, "catalog")}
	c.snapshot.Store(&CatalogSnapshot{})
	return c
}

// Snapshot returns the current catalog view. Never nil.
func (c *CatalogStore) Snapshot() *CatalogSnapshot {
	return c.snapshot.Load()
}

// Reload re-reads every catalog file and atomically swaps the snapshot.
// A missing or empty file yields an empty map with a warning; a file that
// exists but fails to parse aborts the reload with the old snapshot intact.
func (c *CatalogStore) Reload() (*CatalogSnapshot, error) {
	assets, err := loadCatalogMap[Asset](c.dir, assetsFile, c.logger)
	if err != nil {
		return nil, err
	}
	collabs, err := loadCatalogMap[Collab](c.dir, collabsFile, c.logger)
	if err != nil {
		return nil, err
	}
	clients, err := loadCatalogMap[Client](c.dir, clientsFile, c.logger)
	if err != nil {
		return nil, err
	}
	channels, err := loadCatalogMap[ChannelInfo](c.dir, channelsFile, c.logger)
	if err != nil {
		return nil, err
	}
	identities, err := loadCatalogMap[Identity](c.dir, identitiesFile, c.logger)
	if err != nil {
		return nil, err
	}

	next := &CatalogSnapshot{
		Assets:     assets,
		Collabs:    collabs,
		Clients:    clients,
		Channels:   channels,
		Identities: identities,
		LoadedAt:   time.Now(),
	}
	c.snapshot.Store(next)
	c.logger.Info(
		"catalogs reloaded",
		"assets", len(assets),
		"collabs", len(collabs),
		"clients", len(clients),
		"channels", len(channels),
		"identities", len(identities),
	)
	return next, nil
}

// Backup copies every present data file into backupDir as
// <name>-<timestamp>.json and returns the names of the files copied.
// Missing files are skipped, not errors.
func (c *CatalogStore) Backup(backupDir string) ([]string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	var copied []string
	for _, name := range catalogBackupFiles {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("reading %s: %w", name, err)
		}
		backupName := fmt.Sprintf(
			"%s-%s.json",
			strings.TrimSuffix(name, ".json"),
			timestamp,
		)
		if err := os.WriteFile(
			filepath.Join(backupDir, backupName), data, 0o644,
		); err != nil {
			return copied, fmt.Errorf("writing %s: %w", backupName, err)
		}
		copied = append(copied, name)
	}
	return copied, nil
}

// SearchResult is one hit from CatalogStore.Search.
type SearchResult struct {
	Kind        string
	ID          string
	Name        string
	Description string
}

// Search scans assets, collabs and clients for entries whose id, name,
// description or role contains the query (case-insensitive). Results are
// sorted by kind then id and capped at 20.
func (c *CatalogStore) Search(query string) []SearchResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	snap := c.Snapshot()
	var results []SearchResult

	for id, a := range snap.Assets {
		if containsFold(query, id, a.Name, a.Description.String(), a.Type) {
			results = append(
				results, SearchResult{
					Kind:        "asset",
					ID:          id,
					Name:        a.Name,
					Description: a.Description.String(),
				},
			)
		}
	}
	for id, w := range snap.Collabs {
		if containsFold(query, id, w.Name, w.Description) {
			results = append(
				results, SearchResult{
					Kind:        "collab",
					ID:          id,
					Name:        w.Name,
					Description: w.Description,
				},
			)
		}
	}
	for id, cl := range snap.Clients {
		if containsFold(query, id, cl.Name, cl.Role) {
			results = append(
				results, SearchResult{
					Kind:        "client",
					ID:          id,
					Name:        cl.Name,
					Description: cl.Role,
				},
			)
		}
	}

	sort.Slice(
		results, func(i, j int) bool {
			if results[i].Kind != results[j].Kind {
				return results[i].Kind < results[j].Kind
			}
			return results[i].ID < results[j].ID
		},
	)
	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}
	return results
}

func containsFold(query string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

// loadCatalogMap reads one catalog file into a keyed map. Absent or empty
// files are not errors: the operator may not use every catalog.
func loadCatalogMap[T any](
	dir string,
	name string,
	logger *slog.Logger,
) (map[string]T, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("catalog file missing, using empty catalog", "file", name)
		return map[string]T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		logger.Warn("catalog file empty, using empty catalog", "file", name)
		return map[string]T{}, nil
	}
	var m map[string]T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if m == nil {
		m = map[string]T{}
	}
	return m, nil
}
