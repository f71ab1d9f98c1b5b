package permission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/docstore"
	"modbot/internal/lockfile"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const FileName = "permissions.json"

const (
	Public  = "public"
	Private = "private"
)

// Allowed says who may run a command: everyone, administrators only, or
// members holding one of the listed roles.
type Allowed struct {
	Mode  string
	Roles []string
}

func (a Allowed) MarshalJSON() ([]byte, error) {
	if a.Mode == Public || a.Mode == Private {
		return json.Marshal(a.Mode)
	}
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	return json.Marshal(roles)
}

func (a *Allowed) UnmarshalJSON(raw []byte) error {
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		if mode != Public && mode != Private {
			return apperr.Newf(apperr.Internal, apperr.InvalidValue, "Allowed value %q is invalid!", mode)
		}
		*a = Allowed{Mode: mode}
		return nil
	}
	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		return apperr.New(apperr.Internal, apperr.TypeError, "Allowed is not a string or a list of roles!")
	}
	*a = Allowed{Roles: roles}
	return nil
}

func (a Allowed) String() string {
	if a.Mode != "" {
		return a.Mode
	}
	return strings.Join(a.Roles, ",")
}

type Roles struct {
	Allowed Allowed `json:"allowed"`
	// MinViewer is public, private or a role id whose permissions gate
	// who sees the command.
	MinViewer string `json:"minViewer"`
}

type Rule struct {
	Roles Roles `json:"roles"`
}

type Guild struct {
	Name     string           `json:"name"`
	Commands map[string]*Rule `json:"commands"`
}

type Document map[string]*Guild

func defaultRule() *Rule {
	return &Rule{Roles: Roles{Allowed: Allowed{Mode: Private}, MinViewer: Private}}
}

// Handler keeps per guild command permissions in a single JSON document.
type Handler struct {
	file   *docstore.File[Document]
	cache  *expirable.LRU[string, Rule]
	logger *zap.Logger
}

func NewHandler(path string, locker *lockfile.Locker, cacheTTL time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	codec := docstore.JSONCodec[Document]{NewEmpty: func() Document { return Document{} }}
	return &Handler{
		file:   docstore.New[Document](path, locker, codec),
		cache:  expirable.NewLRU[string, Rule](1024, nil, cacheTTL),
		logger: logger.Named("permission"),
	}
}

func (h *Handler) Path() string {
	return h.file.Path()
}

// EnsureCommands adds every missing command to the guild as private.
func (h *Handler) EnsureCommands(ctx context.Context, guildID, guildName string, commands []string) (int, error) {
	added := 0
	err := h.file.Update(ctx, func(doc Document) (Document, error) {
		if doc == nil {
			doc = Document{}
		}
		g := doc[guildID]
		if g == nil {
			g = &Guild{}
			doc[guildID] = g
		}
		if guildName != "" {
			g.Name = guildName
		}
		if g.Commands == nil {
			g.Commands = map[string]*Rule{}
		}
		for _, command := range commands {
			if _, ok := g.Commands[command]; !ok {
				g.Commands[command] = defaultRule()
				added++
			}
		}
		return doc, nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		h.purgeGuild(guildID, commands)
		h.logger.Info("command permissions added", zap.String("guild_id", guildID), zap.Int("count", added))
	}
	return added, nil
}

func (h *Handler) SetAllowed(ctx context.Context, guildID, command string, allowed Allowed) error {
	err := h.file.Update(ctx, func(doc Document) (Document, error) {
		rule, err := lookup(doc, guildID, command)
		if err != nil {
			return nil, err
		}
		rule.Roles.Allowed = allowed
		return doc, nil
	})
	h.cache.Remove(cacheKey(guildID, command))
	if err != nil {
		return err
	}
	h.logger.Info("command permissions changed", zap.String("guild_id", guildID), zap.String("command", command), zap.String("allowed", allowed.String()))
	return nil
}

func (h *Handler) Rule(ctx context.Context, guildID, command string) (Rule, error) {
	key := cacheKey(guildID, command)
	if rule, ok := h.cache.Get(key); ok {
		return rule, nil
	}
	var out Rule
	err := h.file.View(ctx, func(doc Document) error {
		rule, err := lookup(doc, guildID, command)
		if err != nil {
			return err
		}
		out = *rule
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	h.cache.Add(key, out)
	return out, nil
}

// Check lets administrators through and applies the command rule to
// everyone else.
func (h *Handler) Check(ctx context.Context, guildID, command string, member *discordgo.Member, guildRoles []*discordgo.Role) error {
	if member == nil {
		return apperr.Userf(apperr.BlockedAction, "You can only use `%s` inside a server!", command)
	}
	if IsAdmin(member, guildRoles) {
		return nil
	}
	rule, err := h.Rule(ctx, guildID, command)
	if err != nil {
		return err
	}
	switch rule.Roles.Allowed.Mode {
	case Public:
		return nil
	case Private:
		return denied(command)
	}
	for _, allowed := range rule.Roles.Allowed.Roles {
		for _, held := range member.Roles {
			if allowed == held {
				return nil
			}
		}
	}
	return denied(command)
}

// MinViewerPermissions is the permission bitfield a member needs to see
// the command.
func (h *Handler) MinViewerPermissions(ctx context.Context, guildID, command string, guildRoles []*discordgo.Role) (int64, error) {
	rule, err := h.Rule(ctx, guildID, command)
	if err != nil {
		return 0, err
	}
	switch rule.Roles.MinViewer {
	case Public:
		return 0, nil
	case Private, "":
		return discordgo.PermissionAdministrator, nil
	}
	for _, role := range guildRoles {
		if role != nil && role.ID == rule.Roles.MinViewer {
			return role.Permissions, nil
		}
	}
	return 0, apperr.Newf(apperr.Internal, apperr.NotFound, "The role with the id: %s was not found!", rule.Roles.MinViewer)
}

// ParseAllowList reads the allow-list option. A public or private token
// wins over roles; unknown roles are dropped.
func ParseAllowList(raw string, guildRoles []*discordgo.Role) (Allowed, error) {
	known := make(map[string]struct{}, len(guildRoles))
	for _, role := range guildRoles {
		if role != nil {
			known[role.ID] = struct{}{}
		}
	}
	var roles []string
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		token = strings.TrimSuffix(strings.TrimPrefix(token, "<@&"), ">")
		switch strings.ToLower(token) {
		case "":
			continue
		case Public, Private:
			return Allowed{Mode: strings.ToLower(token)}, nil
		}
		if _, ok := known[token]; ok {
			roles = append(roles, token)
		}
	}
	if len(roles) == 0 {
		return Allowed{}, apperr.Userf(apperr.InvalidValue, "**%s** has no role of this server, nor `public` or `private`!", raw)
	}
	return Allowed{Roles: roles}, nil
}

func IsAdmin(member *discordgo.Member, guildRoles []*discordgo.Role) bool {
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	held := make(map[string]struct{}, len(member.Roles))
	for _, id := range member.Roles {
		held[id] = struct{}{}
	}
	for _, role := range guildRoles {
		if role == nil {
			continue
		}
		if _, ok := held[role.ID]; ok && role.Permissions&discordgo.PermissionAdministrator != 0 {
			return true
		}
	}
	return false
}

func lookup(doc Document, guildID, command string) (*Rule, error) {
	g, ok := doc[guildID]
	if !ok || g == nil {
		return nil, apperr.Newf(apperr.Internal, apperr.NotFound, "The guild %s has no permissions configured!", guildID)
	}
	rule, ok := g.Commands[command]
	if !ok || rule == nil {
		return nil, apperr.Userf(apperr.NotFound, "The command `%s` has no permissions configured!", command)
	}
	return rule, nil
}

func (h *Handler) purgeGuild(guildID string, commands []string) {
	for _, command := range commands {
		h.cache.Remove(cacheKey(guildID, command))
	}
}

func denied(command string) error {
	return apperr.Userf(apperr.BlockedAction, "You are not allowed to use `%s`!", command)
}

func cacheKey(guildID, command string) string {
	return guildID + "|" + command
}
