package registry

import "fmt"

// Scope name builders. A scope is a named set of connections that can
// be addressed as one broadcast unit; the names below are the only
// ones the engine creates.
func UserScope(userID string) string        { return "user:" + userID }
func RoleScope(role string) string          { return "role:" + role }
func CourseScope(courseID string) string    { return "course:" + courseID }
func CourseStudents(courseID string) string { return fmt.Sprintf("course:%s:students", courseID) }
func CourseStaff(courseID string) string    { return fmt.Sprintf("course:%s:instructor", courseID) }
func LiveScope(sessionID string) string     { return "live:" + sessionID }

// JoinScope adds the connection to a named scope. The connection must
// still be registered; joining after a concurrent disconnect is
// refused so scope membership can never outlive the connection.
func (r *Registry) JoinScope(link Link, scope string) error {
	if link == nil {
		return ErrNilLink
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connID := link.ID()
	if _, exists := r.conns[connID]; !exists {
		return ErrNotRegistered
	}
	if r.scopes[scope] == nil {
		r.scopes[scope] = make(map[string]Link)
	}
	r.scopes[scope][connID] = link
	return nil
}

// LeaveScope removes the connection from a scope. Tolerant of partial
// or absent membership; empty scopes are reclaimed immediately.
func (r *Registry) LeaveScope(link Link, scope string) {
	if link == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.scopes[scope]
	if !ok {
		return
	}
	delete(members, link.ID())
	if len(members) == 0 {
		delete(r.scopes, scope)
	}
}

// InScope reports whether the connection is currently a member.
func (r *Registry) InScope(connID, scope string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scopes[scope][connID]
	return ok
}

// ScopeMembers returns a snapshot of the connections in a scope.
func (r *Registry) ScopeMembers(scope string) []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]Link, 0, len(r.scopes[scope]))
	for _, link := range r.scopes[scope] {
		links = append(links, link)
	}
	return links
}

// ScopeUsers returns the distinct user ids with at least one
// connection in the scope.
func (r *Registry) ScopeUsers(scope string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	users := make([]string, 0, len(r.scopes[scope]))
	for _, link := range r.scopes[scope] {
		if !seen[link.UserID()] {
			seen[link.UserID()] = true
			users = append(users, link.UserID())
		}
	}
	return users
}

// BroadcastScope delivers an event to every connection in the scope
// except the optional excluded one. Returns the number of sends
// attempted; individual failures are logged and skipped.
func (r *Registry) BroadcastScope(scope, eventName string, payload any, excludeConnID string) int {
	links := r.ScopeMembers(scope)
	sent := 0
	for _, link := range links {
		if link.ID() == excludeConnID {
			continue
		}
		if err := link.Send(eventName, payload); err != nil {
			// One slow or dead connection must not affect the rest of
			// the scope.
			continue
		}
		sent++
	}
	return sent
}
