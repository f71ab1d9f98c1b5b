package bot

import (
	"context"
	"fmt"
	"strings"

	"modbot/internal/autoemote"
	"modbot/internal/autoreport"
	"modbot/internal/modules/audit"
	"modbot/internal/preset"
	"modbot/internal/presetcmd"

	"github.com/bwmarrin/discordgo"
)

// presetCommand binds a preset driven slash command to its template and
// to the option parsing of its own params.
type presetCommand struct {
	template *presetcmd.Template
	params   func(options) (map[string]any, error)
	changes  func(options) (map[string]any, error)
	// running describes each active preset by name.
	running func() map[string]string
}

func (b *Bot) presetCommands() map[string]*presetCommand {
	return map[string]*presetCommand{
		autoreport.Command: {
			template: b.reports,
			params: func(o options) (map[string]any, error) {
				return autoreport.BuildParams(o.ID("channel"), o.ID("log_channel"), o.String("emoji"))
			},
			changes: func(o options) (map[string]any, error) {
				return autoreport.Changes(o.ID("channel"), o.ID("log_channel"), o.String("emoji"))
			},
			running: func() map[string]string {
				out := make(map[string]string)
				for name, params := range b.autoreport.Active() {
					out[name] = fmt.Sprintf("%s <#%s> → <#%s>", params.Emoji.String(), params.ChatID, params.LogChatID)
				}
				return out
			},
		},
		autoemote.Command: {
			template: b.emotes,
			params: func(o options) (map[string]any, error) {
				return autoemote.BuildParams(o.ID("channel"), o.String("emoji"))
			},
			changes: func(o options) (map[string]any, error) {
				return autoemote.Changes(o.ID("channel"), o.String("emoji"))
			},
			running: func() map[string]string {
				out := make(map[string]string)
				for name, params := range b.autoemote.Active() {
					out[name] = fmt.Sprintf("%s <#%s>", params.Emoji.String(), params.ChatID)
				}
				return out
			},
		},
	}
}

func (b *Bot) handlePreset(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	pc, ok := b.presets[c.command]
	if !ok {
		return nil, unknownSubcommand(c.command)
	}
	name := c.opts.String("name")
	switch c.sub {
	case "new":
		params, err := pc.params(c.opts)
		if err != nil {
			return nil, err
		}
		created, err := pc.template.New(ctx, name, params)
		if err != nil {
			return nil, err
		}
		b.auditPreset(ctx, c, "created "+created.Name)
		return b.simpleEmbed(c, b.t(c.lang, "preset_created_title", nil), b.t(c.lang, "preset_created", map[string]any{"name": created.Name}))
	case "edit":
		changes, err := pc.changes(c.opts)
		if err != nil {
			return nil, err
		}
		edited, err := pc.template.Edit(ctx, name, changes, c.opts.String("new_name"))
		if err != nil {
			return nil, err
		}
		details := "edited " + name
		if edited.Name != name {
			details += " as " + edited.Name
		}
		b.auditPreset(ctx, c, details)
		return b.simpleEmbed(c, b.t(c.lang, "preset_edited_title", nil), b.t(c.lang, "preset_edited", map[string]any{"name": edited.Name}))
	case "remove":
		old, err := pc.template.Remove(ctx, name, c.opts.Bool("remove_previous", false))
		if err != nil {
			return nil, err
		}
		if old == "" {
			b.auditPreset(ctx, c, "erased "+name)
			return b.simpleEmbed(c, b.t(c.lang, "preset_removed_title", nil), b.t(c.lang, "preset_removed_full", map[string]any{"name": name}))
		}
		b.auditPreset(ctx, c, "removed "+name+" as "+old)
		return b.simpleEmbed(c, b.t(c.lang, "preset_removed_title", nil), b.t(c.lang, "preset_removed_soft", map[string]any{"name": name, "old": old}))
	case "list":
		entries, err := pc.template.List(ctx, c.opts.Bool("with_olds", false))
		if err != nil {
			return nil, err
		}
		description := presetLines(entries, pc.running())
		if description == "" {
			description = b.t(c.lang, "preset_list_empty", nil)
		}
		return b.embeds.Mount("preset_list", map[string]any{
			"command": pc.template.Command(),
			"presets": description,
		})
	}
	return nil, unknownSubcommand(c.sub)
}

// presetLines lists presets in creation order; running ones show what
// they do.
func presetLines(entries []preset.Entry, running map[string]string) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		line := "**" + entry.Name + "**"
		if preset.IsSoftDeleted(entry.Name) {
			line = "~~" + entry.Name + "~~"
		}
		if description, ok := running[entry.Name]; ok {
			line += " " + description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) auditPreset(ctx context.Context, c *commandContext, details string) {
	b.audit.Log(ctx, audit.LevelInfo, c.guildID, c.userID, audit.EventPresetChange, c.command+": "+details)
}
