// Package permission decides whether tool invocations may proceed. Rules
// compiled from built-in defaults, agent overrides, and project config are
// consulted per call; unresolved calls suspend on a user prompt.
package permission

// Kind identifies what a tool invocation is asking to do. The set is
// closed; a tool that maps to no kind here must declare one before it can
// be dispatched.
type Kind string

const (
	KindRead              Kind = "read"
	KindEdit              Kind = "edit"
	KindBash              Kind = "bash"
	KindWebfetch          Kind = "webfetch"
	KindWebsearch         Kind = "websearch"
	KindCodesearch        Kind = "codesearch"
	KindGlob              Kind = "glob"
	KindGrep              Kind = "grep"
	KindList              Kind = "list"
	KindTodoread          Kind = "todoread"
	KindTodowrite         Kind = "todowrite"
	KindQuestion          Kind = "question"
	KindPlanEnter         Kind = "plan_enter"
	KindPlanExit          Kind = "plan_exit"
	KindDoomLoop          Kind = "doom_loop"
	KindExternalDirectory Kind = "external_directory"
)

var allKinds = map[Kind]bool{
	KindRead: true, KindEdit: true, KindBash: true, KindWebfetch: true,
	KindWebsearch: true, KindCodesearch: true, KindGlob: true, KindGrep: true,
	KindList: true, KindTodoread: true, KindTodowrite: true, KindQuestion: true,
	KindPlanEnter: true, KindPlanExit: true, KindDoomLoop: true,
	KindExternalDirectory: true,
}

// pathScoped kinds carry a filesystem path as their scope value; rules of
// kind external_directory overlay them for paths outside the worktree.
var pathScoped = map[Kind]bool{
	KindRead: true, KindEdit: true, KindGlob: true, KindGrep: true,
	KindList: true, KindExternalDirectory: true,
}

// ParseKind validates a kind name against the closed set.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, allKinds[k]
}

// Action is a rule verdict.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// ParseAction validates an action string from config.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionAllow, ActionAsk, ActionDeny:
		return Action(s), true
	}
	return "", false
}

// Reply is a user's answer to a pending permission request.
type Reply string

const (
	ReplyAllowOnce   Reply = "allow_once"
	ReplyAllowAlways Reply = "allow_always"
	ReplyDeny        Reply = "deny"
)

// ParseReply validates a reply string.
func ParseReply(s string) (Reply, bool) {
	switch Reply(s) {
	case ReplyAllowOnce, ReplyAllowAlways, ReplyDeny:
		return Reply(s), true
	}
	return "", false
}
