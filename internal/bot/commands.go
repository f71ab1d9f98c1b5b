package bot

import (
	"context"

	"modbot/internal/autoemote"
	"modbot/internal/autoreport"
	"modbot/internal/movecontent"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	commandBan         = "ban"
	commandKick        = "kick"
	commandMute        = "mute"
	commandWarn        = "warn"
	commandCase        = "case"
	commandPunishments = "punishments"
	commandAutoreport  = autoreport.Command
	commandAutoemote   = autoemote.Command
	commandConfig      = "config"
	commandActivity    = "activity"
	commandMovecontent = movecontent.Command
	commandPing        = "ping"
)

func commandNames() []string {
	return []string{
		commandBan,
		commandKick,
		commandMute,
		commandWarn,
		commandCase,
		commandPunishments,
		commandAutoreport,
		commandAutoemote,
		commandConfig,
		commandActivity,
		commandMovecontent,
		commandPing,
	}
}

func localized(en, pt string) map[discordgo.Locale]string {
	return map[discordgo.Locale]string{
		discordgo.EnglishUS:    en,
		discordgo.PortugueseBR: pt,
	}
}

func commandLocalized(en, pt string) *map[discordgo.Locale]string {
	m := localized(en, pt)
	return &m
}

func userOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionUser,
		Name:                     "user",
		Description:              "target member",
		DescriptionLocalizations: localized("target member", "membro alvo"),
		Required:                 required,
	}
}

func reasonOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     "reason",
		Description:              "why",
		DescriptionLocalizations: localized("why", "motivo"),
		Required:                 required,
		MaxLength:                500,
	}
}

func limitOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     "limit",
		Description:              "duration like 1d+12h, 30min or 2w",
		DescriptionLocalizations: localized("duration like 1d+12h, 30min or 2w", "duração como 1d+12h, 30min ou 2w"),
		Required:                 required,
	}
}

func caseOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionInteger,
		Name:                     "case",
		Description:              "case number",
		DescriptionLocalizations: localized("case number", "número do caso"),
		Required:                 true,
		MinValue:                 ptr(1.0),
	}
}

func presetNameOption(autocomplete bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     "name",
		Description:              "preset name",
		DescriptionLocalizations: localized("preset name", "nome do preset"),
		Required:                 true,
		Autocomplete:             autocomplete,
		MaxLength:                50,
	}
}

func newNameOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     "new_name",
		Description:              "rename the preset",
		DescriptionLocalizations: localized("rename the preset", "renomear o preset"),
		MaxLength:                50,
	}
}

func removePreviousOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionBoolean,
		Name:                     "remove_previous",
		Description:              "erase it for good instead of keeping an old_ copy",
		DescriptionLocalizations: localized("erase it for good instead of keeping an old_ copy", "apagar de vez em vez de guardar uma cópia old_"),
	}
}

func withOldsOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionBoolean,
		Name:                     "with_olds",
		Description:              "include removed presets",
		DescriptionLocalizations: localized("include removed presets", "incluir presets removidos"),
	}
}

func channelOption(name, en, pt string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionChannel,
		Name:                     name,
		Description:              en,
		DescriptionLocalizations: localized(en, pt),
		Required:                 required,
		ChannelTypes:             []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

// textChannelOption also accepts announcement channels and threads.
func textChannelOption(name, en, pt string) *discordgo.ApplicationCommandOption {
	opt := channelOption(name, en, pt, true)
	opt.ChannelTypes = []discordgo.ChannelType{
		discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
	}
	return opt
}

func emojiOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     "emoji",
		Description:              "emoji members react with to report",
		DescriptionLocalizations: localized("emoji members react with to report", "emoji usado para denunciar"),
		Required:                 required,
	}
}

// ephemeralOption is appended last to every command; it defaults to true.
func ephemeralOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionBoolean,
		Name:                     "ephemeral",
		Description:              "only you see the answer (default: yes)",
		DescriptionLocalizations: localized("only you see the answer (default: yes)", "só você vê a resposta (padrão: sim)"),
	}
}

func subcommand(name, en, pt string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionSubCommand,
		Name:                     name,
		Description:              en,
		DescriptionLocalizations: localized(en, pt),
		Options:                  append(options, ephemeralOption()),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func commandDefinitions(languages []string) []*discordgo.ApplicationCommand {
	commandChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(commandNames()))
	for _, name := range commandNames() {
		commandChoices = append(commandChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	languageChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(languages))
	for _, lang := range languages {
		languageChoices = append(languageChoices, &discordgo.ApplicationCommandOptionChoice{Name: lang, Value: lang})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandBan,
			Description:              "Ban a member, optionally for a limited time",
			DescriptionLocalizations: commandLocalized("Ban a member, optionally for a limited time", "Banir um membro, opcionalmente por um tempo"),
			DMPermission:             ptr(false),
			Options: []*discordgo.ApplicationCommandOption{
				userOption(true),
				reasonOption(false),
				limitOption(false),
				{
					Type:                     discordgo.ApplicationCommandOptionInteger,
					Name:                     "delete_days",
					Description:              "days of messages to delete (0-7)",
					DescriptionLocalizations: localized("days of messages to delete (0-7)", "dias de mensagens a apagar (0-7)"),
					MinValue:                 ptr(0.0),
					MaxValue:                 7,
				},
				ephemeralOption(),
			},
		},
		{
			Name:                     commandKick,
			Description:              "Kick a member",
			DescriptionLocalizations: commandLocalized("Kick a member", "Expulsar um membro"),
			DMPermission:             ptr(false),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true), reasonOption(false), ephemeralOption()},
		},
		{
			Name:                     commandMute,
			Description:              "Time a member out",
			DescriptionLocalizations: commandLocalized("Time a member out", "Silenciar um membro"),
			DMPermission:             ptr(false),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true), limitOption(true), reasonOption(false), ephemeralOption()},
		},
		{
			Name:                     commandWarn,
			Description:              "Warn a member",
			DescriptionLocalizations: commandLocalized("Warn a member", "Advertir um membro"),
			DMPermission:             ptr(false),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true), reasonOption(false), ephemeralOption()},
		},
		{
			Name:                     commandCase,
			Description:              "Look at or change a punishment case",
			DescriptionLocalizations: commandLocalized("Look at or change a punishment case", "Ver ou alterar um caso"),
			DMPermission:             ptr(false),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "show a case", "mostrar um caso", caseOption()),
				subcommand("undo", "lift a ban or a mute", "desfazer um ban ou silêncio", caseOption()),
				subcommand("reason", "change the reason of a case", "mudar o motivo de um caso", caseOption(), reasonOption(true)),
			},
		},
		{
			Name:                     commandPunishments,
			Description:              "Show the punishment history of a member",
			DescriptionLocalizations: commandLocalized("Show the punishment history of a member", "Mostrar o histórico de um membro"),
			DMPermission:             ptr(false),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true), ephemeralOption()},
		},
		{
			Name:                     commandAutoreport,
			Description:              "Let members report messages by reacting",
			DescriptionLocalizations: commandLocalized("Let members report messages by reacting", "Denúncias por reação"),
			DMPermission:             ptr(false),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("new", "watch a channel", "vigiar um canal",
					presetNameOption(false),
					channelOption("channel", "channel to watch", "canal vigiado", true),
					channelOption("log_channel", "where reports go", "para onde vão as denúncias", true),
					emojiOption(true),
				),
				subcommand("edit", "change a preset", "alterar um preset",
					presetNameOption(true),
					newNameOption(),
					channelOption("channel", "channel to watch", "canal vigiado", false),
					channelOption("log_channel", "where reports go", "para onde vão as denúncias", false),
					emojiOption(false),
				),
				subcommand("remove", "stop a preset", "parar um preset", presetNameOption(true), removePreviousOption()),
				subcommand("list", "list presets", "listar presets", withOldsOption()),
			},
		},
		{
			Name:                     commandAutoemote,
			Description:              "React to every new message in a channel",
			DescriptionLocalizations: commandLocalized("React to every new message in a channel", "Reagir a toda mensagem nova de um canal"),
			DMPermission:             ptr(false),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("new", "react in a channel", "reagir em um canal",
					presetNameOption(false),
					channelOption("channel", "channel to react in", "canal onde reagir", true),
					emojiOption(true),
				),
				subcommand("edit", "change a preset", "alterar um preset",
					presetNameOption(true),
					newNameOption(),
					channelOption("channel", "channel to react in", "canal onde reagir", false),
					emojiOption(false),
				),
				subcommand("remove", "stop a preset", "parar um preset", presetNameOption(true), removePreviousOption()),
				subcommand("list", "list presets", "listar presets", withOldsOption()),
			},
		},
		{
			Name:                     commandConfig,
			Description:              "Server settings",
			DescriptionLocalizations: commandLocalized("Server settings", "Configurações do servidor"),
			DMPermission:             ptr(false),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("command-permissions", "who may use a command", "quem pode usar um comando",
					&discordgo.ApplicationCommandOption{
						Type:                     discordgo.ApplicationCommandOptionString,
						Name:                     "command",
						Description:              "command to change",
						DescriptionLocalizations: localized("command to change", "comando a alterar"),
						Required:                 true,
						Choices:                  commandChoices,
					},
					&discordgo.ApplicationCommandOption{
						Type:                     discordgo.ApplicationCommandOptionString,
						Name:                     "allowed",
						Description:              "public, private or role ids separated by commas",
						DescriptionLocalizations: localized("public, private or role ids separated by commas", "public, private ou ids de cargos separados por vírgula"),
						Required:                 true,
					},
				),
				subcommand("log-channel", "where audit entries go", "para onde vão os registros",
					channelOption("channel", "log channel", "canal de registros", true),
				),
				subcommand("language", "language I answer in", "idioma das respostas",
					&discordgo.ApplicationCommandOption{
						Type:                     discordgo.ApplicationCommandOptionString,
						Name:                     "value",
						Description:              "language",
						DescriptionLocalizations: localized("language", "idioma"),
						Required:                 true,
						Choices:                  languageChoices,
					},
				),
				subcommand("retention", "how long audit entries are kept", "por quanto tempo os registros ficam",
					&discordgo.ApplicationCommandOption{
						Type:                     discordgo.ApplicationCommandOptionInteger,
						Name:                     "days",
						Description:              "days",
						DescriptionLocalizations: localized("days", "dias"),
						Required:                 true,
						MinValue:                 ptr(1.0),
						MaxValue:                 3650,
					},
				),
			},
		},
		{
			Name:                     commandActivity,
			Description:              "Moderation activity report",
			DescriptionLocalizations: commandLocalized("Moderation activity report", "Relatório de moderação"),
			DMPermission:             ptr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:                     discordgo.ApplicationCommandOptionString,
					Name:                     "period",
					Description:              "day or week",
					DescriptionLocalizations: localized("day or week", "dia ou semana"),
					Required:                 true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
				ephemeralOption(),
			},
		},
		{
			Name:                     commandMovecontent,
			Description:              "Copy the media of a channel into another, oldest first",
			DescriptionLocalizations: commandLocalized("Copy the media of a channel into another, oldest first", "Copiar as mídias de um canal para outro, das mais antigas às mais novas"),
			DMPermission:             ptr(false),
			DefaultMemberPermissions: ptr(int64(discordgo.PermissionAdministrator)),
			Options: []*discordgo.ApplicationCommandOption{
				textChannelOption("origin-chat", "channel to copy from", "canal de origem"),
				textChannelOption("destination-chat", "channel to copy into", "canal de destino"),
				ephemeralOption(),
			},
		},
		{
			Name:                     commandPing,
			Description:              "Check that I am awake",
			DescriptionLocalizations: commandLocalized("Check that I am awake", "Ver se estou acordado"),
			DMPermission:             ptr(false),
			Options:                  []*discordgo.ApplicationCommandOption{ephemeralOption()},
		},
	}
}

// registerCommands makes the registered commands match the definitions:
// existing ones are edited, new ones created and stale ones deleted.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions(b.messages.Languages())
	appID := b.session.State.User.ID
	scope := b.cfg.GuildID

	existing, err := b.session.ApplicationCommands(appID, scope)
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, scope, current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := b.session.ApplicationCommandDelete(appID, scope, cmd.ID); err != nil {
			b.logger.Warn("stale command not deleted", zap.String("command", cmd.Name), zap.Error(err))
		}
	}
	b.logger.Info("commands registered", zap.Int("count", len(commands)), zap.String("guild_id", scope))

	if scope != "" {
		b.applyViewerPermissions(context.Background(), scope, b.guildRoles(scope))
	}
	return nil
}

// applyViewerPermissions hides guild commands from members below each
// command's minimum viewer. Only guild scoped commands can be tuned per
// guild, so this runs for the configured guild alone.
func (b *Bot) applyViewerPermissions(ctx context.Context, guildID string, roles []*discordgo.Role) {
	appID := b.selfID()
	if appID == "" {
		return
	}
	registered, err := b.session.ApplicationCommands(appID, guildID)
	if err != nil {
		b.logger.Warn("guild commands not listed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	for _, cmd := range registered {
		bits, err := b.permissions.MinViewerPermissions(ctx, guildID, cmd.Name, roles)
		if err != nil {
			b.logger.Warn("viewer permissions unknown", zap.String("command", cmd.Name), zap.Error(err))
			continue
		}
		if cmd.DefaultMemberPermissions != nil && *cmd.DefaultMemberPermissions == bits {
			continue
		}
		cmd.DefaultMemberPermissions = ptr(bits)
		if _, err := b.session.ApplicationCommandEdit(appID, guildID, cmd.ID, cmd); err != nil {
			b.logger.Warn("viewer permissions not applied", zap.String("command", cmd.Name), zap.Error(err))
		}
	}
}
