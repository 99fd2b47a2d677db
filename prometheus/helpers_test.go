package prometheus

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionUser(t *testing.T) {
	t.Parallel()

	guildUser := &discordgo.User{ID: "guild-user"}
	dmUser := &discordgo.User{ID: "dm-user"}

	fromGuild := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: guildUser},
		},
	}
	assert.Equal(t, guildUser, interactionUser(fromGuild))

	fromDM := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{User: dmUser},
	}
	assert.Equal(t, dmUser, interactionUser(fromDM))
}

func TestHasAdminPermission(t *testing.T) {
	t.Parallel()

	admin := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{
				Permissions: discordgo.PermissionAdministrator |
					discordgo.PermissionSendMessages,
			},
		},
	}
	assert.True(t, hasAdminPermission(admin))

	member := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{
				Permissions: discordgo.PermissionSendMessages,
			},
		},
	}
	assert.False(t, hasAdminPermission(member))

	dm := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			User: &discordgo.User{ID: "dm-user"},
		},
	}
	assert.False(t, hasAdminPermission(dm))
}

func TestDiscordInteractionOptions(t *testing.T) {
	t.Parallel()

	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "present",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					stringOption("name", "sentinel"),
					stringOption("kind", "asset"),
				},
			},
		},
	}
	options := discordInteractionOptions(i)
	require.Len(t, options, 2)
	assert.Equal(t, "sentinel", options["name"].StringValue())
	assert.Equal(t, "asset", options["kind"].StringValue())
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "trunc", truncate("truncated", 5))
	// rune-aware, not byte-aware
	assert.Equal(t, "héllo", truncate("héllo wörld", 5))
	assert.Empty(t, truncate("", 5))
}

func TestSortedKeys(t *testing.T) {
	t.Parallel()

	m := map[string]int{"zulu": 1, "alpha": 2, "mike": 3}
	assert.Equal(t, []string{"alpha", "mike", "zulu"}, sortedKeys(m))
	assert.Empty(t, sortedKeys(map[string]int{}))
}

func TestStringPointerValue(t *testing.T) {
	t.Parallel()

	s := "value"
	assert.Equal(t, "value", stringPointerValue(&s))
	assert.Empty(t, stringPointerValue(nil))
}

func TestWithLoggerRoundTrip(t *testing.T) {
	t.Parallel()

	logger := newTestLogger(t)
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)

	_, ok = ContextLogger(context.Background())
	assert.False(t, ok)

	// nil logger falls back to the default
	ctx = WithLogger(context.Background(), nil)
	got, ok = ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, slog.Default(), got)
}

func TestStructToSlogValueRedactsTaggedFields(t *testing.T) {
	t.Parallel()

	type inner struct {
		Token string `json:"token" log:"[redacted]"`
		Name  string `json:"name"`
	}
	type outer struct {
		Listen string `json:"listen"`
		Child  inner  `json:"child"`
		Unset  string `json:"unset"`
	}

	v := structToSlogValue(
		outer{
			Listen: ":3030",
			Child:  inner{Token: "super-secret", Name: "prometheus"},
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	flat := map[string]string{}
	var walk func(prefix string, attrs []slog.Attr)
	walk = func(prefix string, attrs []slog.Attr) {
		for _, a := range attrs {
			if a.Value.Kind() == slog.KindGroup {
				walk(prefix+a.Key+".", a.Value.Group())
				continue
			}
			flat[prefix+a.Key] = a.Value.String()
		}
	}
	walk("", v.Group())

	assert.Equal(t, ":3030", flat["listen"])
	assert.Equal(t, "[redacted]", flat["child.token"])
	assert.Equal(t, "prometheus", flat["child.name"])
	// empty fields are dropped entirely
	_, present := flat["unset"]
	assert.False(t, present)
}

func TestStructToSlogValueNilInputs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.KindAny, structToSlogValue(nil).Kind())
	var cfg *Config
	assert.Equal(t, slog.KindAny, structToSlogValue(cfg).Kind())
	assert.Equal(t, "scalar", structToSlogValue("scalar").String())
}

func TestInteractionLogAttrs(t *testing.T) {
	t.Parallel()

	i := discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "int-1",
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "chan-1",
			GuildID:   "guild-1",
			AppID:     "app-1",
		},
	}
	attrs := interactionLogAttrs(i)
	assert.Contains(t, attrs, "int-1")
	assert.Contains(t, attrs, "chan-1")
	assert.Contains(t, attrs, "guild-1")
	assert.Contains(t, attrs, "app-1")

	bare := discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{ID: "int-2"},
	}
	assert.Len(t, interactionLogAttrs(bare), 4)
}
