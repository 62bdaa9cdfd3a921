package sim

import (
	"strings"

	"go.uber.org/zap"

	"github.com/crabtrading/papersim/pkg/metrics"
)

// Purge removes every trace of an agent: the account itself, name and
// key mappings, registration challenges, follow edges in both
// directions, activity events, and the test flag. The identifier may be
// an account ID or a display name; stale mappings that reference either
// are swept even when the account record itself is already gone.
func (l *Ledger) Purge(identifier string) (PurgeSummary, error) {
	ident := strings.TrimSpace(identifier)
	if ident == "" {
		return PurgeSummary{}, ErrAgentNotFound
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Aliases: the raw identifier, the resolved ID, and the display
	// name all refer to the same agent across the data structures.
	aliases := map[string]struct{}{ident: {}}
	id := l.resolveLocked(ident)
	name := ""
	if id != "" {
		aliases[id] = struct{}{}
		if account, ok := l.accounts[id]; ok {
			name = account.DisplayName
			aliases[name] = struct{}{}
		}
	}
	isAlias := func(ref string) bool {
		_, ok := aliases[ref]
		return ok
	}

	summary := PurgeSummary{AccountID: id, AgentName: name}

	if id != "" {
		if _, ok := l.accounts[id]; ok {
			delete(l.accounts, id)
			summary.DeletedAccount = true
		}
	}

	for mapped, target := range l.nameToID {
		if isAlias(mapped) || isAlias(target) {
			delete(l.nameToID, mapped)
			summary.RemovedNameMappings++
		}
	}

	var deadKeys []string
	for owner, key := range l.agentKeys {
		if isAlias(owner) {
			delete(l.agentKeys, owner)
			deadKeys = append(deadKeys, key)
			summary.RemovedAPIKeys++
		}
	}
	for key, owner := range l.keyToAgent {
		if isAlias(owner) {
			delete(l.keyToAgent, key)
			summary.RemovedKeyMappings++
			continue
		}
		for _, dead := range deadKeys {
			if key == dead {
				delete(l.keyToAgent, key)
				summary.RemovedKeyMappings++
				break
			}
		}
	}

	var deadTokens []string
	for token, challenge := range l.challenges {
		if isAlias(challenge.AccountID) || isAlias(challenge.AgentName) {
			delete(l.challenges, token)
			deadTokens = append(deadTokens, token)
			summary.RemovedChallenges++
		}
	}
	tokenDead := func(token string) bool {
		for _, dead := range deadTokens {
			if token == dead {
				return true
			}
		}
		return false
	}
	for pendingName, token := range l.pendingByName {
		if isAlias(pendingName) || tokenDead(token) {
			delete(l.pendingByName, pendingName)
			summary.RemovedPendingChallenges++
		}
	}
	for apiKey, token := range l.regByAPIKey {
		if tokenDead(token) {
			delete(l.regByAPIKey, apiKey)
			summary.RemovedRegistrationsByKey++
		}
	}

	for follower, followed := range l.following {
		if isAlias(follower) {
			delete(l.following, follower)
			summary.RemovedFollowingOutgoing += len(followed)
			continue
		}
		kept := followed[:0]
		for _, target := range followed {
			if isAlias(target) {
				summary.RemovedFollowingIncoming++
				continue
			}
			kept = append(kept, target)
		}
		l.following[follower] = kept
	}

	kept := l.activityLog[:0]
	for _, event := range l.activityLog {
		if isAlias(event.AccountID) || isAlias(event.AgentName) {
			summary.RemovedActivityEvents++
			continue
		}
		kept = append(kept, event)
	}
	l.activityLog = kept

	for ref := range l.testAgents {
		if isAlias(ref) {
			delete(l.testAgents, ref)
			summary.RemovedTestFlags++
		}
	}

	order := l.insertionOrder[:0]
	for _, ref := range l.insertionOrder {
		if isAlias(ref) {
			continue
		}
		order = append(order, ref)
	}
	l.insertionOrder = order

	if !summary.removedAnything() {
		return PurgeSummary{}, ErrAgentNotFound
	}

	l.recordEventLocked("agent_purged", "", map[string]any{
		"identifier":       ident,
		"deleted_account":  summary.DeletedAccount,
		"removed_events":   summary.RemovedActivityEvents,
		"removed_api_keys": summary.RemovedAPIKeys,
	})
	l.saveLocked()
	metrics.Accounts.Set(float64(len(l.accounts)))

	l.log.Info("agent purged",
		zap.String("identifier", ident),
		zap.String("account_id", id),
		zap.Bool("deleted_account", summary.DeletedAccount),
		zap.Int("removed_events", summary.RemovedActivityEvents),
	)
	return summary, nil
}

func (s PurgeSummary) removedAnything() bool {
	return s.DeletedAccount ||
		s.RemovedAPIKeys > 0 ||
		s.RemovedKeyMappings > 0 ||
		s.RemovedNameMappings > 0 ||
		s.RemovedChallenges > 0 ||
		s.RemovedPendingChallenges > 0 ||
		s.RemovedRegistrationsByKey > 0 ||
		s.RemovedFollowingOutgoing > 0 ||
		s.RemovedFollowingIncoming > 0 ||
		s.RemovedActivityEvents > 0 ||
		s.RemovedTestFlags > 0
}
