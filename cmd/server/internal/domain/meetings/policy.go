package meetings

// policy.go - admission policy evaluation
// Decides admit / wait / deny for a join attempt. Pure function of the
// meeting, the current connected occupancy and the requesting identity, so
// the orchestrator can re-evaluate it safely on retry.

// Verdict 准入判定结果
type Verdict string

const (
	VerdictAdmit Verdict = "admit"
	VerdictWait  Verdict = "wait"
	VerdictDeny  Verdict = "deny"
)

// DenyReason 拒绝原因，作为类型化错误返回给调用端
type DenyReason string

const (
	ReasonNotInvited    DenyReason = "NOT_INVITED"
	ReasonMeetingFull   DenyReason = "MEETING_FULL"
	ReasonMeetingClosed DenyReason = "MEETING_CLOSED"
)

// Requester 发起加入请求的身份
// Anonymous 为 true 时 UserID 是一次性标识，DisplayName 由请求方提供
type Requester struct {
	UserID       string
	DisplayName  string
	FoundationID string
	Role         Role
	Anonymous    bool
}

// Decision 判定结果；Reason 仅在 deny 时有值
type Decision struct {
	Verdict Verdict
	Reason  DenyReason
}

// DecideAccess evaluates the admission policy in strict precedence order;
// the first matching rule wins:
//
//  1. organizer / host / co_host  -> admit (absolute override)
//  2. meeting ended or cancelled  -> deny MEETING_CLOSED
//  3. occupancy >= capacity       -> deny MEETING_FULL
//  4. invited requester           -> lobby bypass evaluation
//  5. uninvited requester         -> deny NOT_INVITED unless uninvited join
//     is allowed, then the same bypass evaluation
//
// Capacity is checked before the invite list so a full meeting turns away
// even invited latecomers. The nobody bypass always forces a wait, which
// gives the host manual admission control regardless of invitation.
func DecideAccess(m *Meeting, occupancy int, req Requester) Decision {
	if req.UserID != "" && req.UserID == m.OrganizerID {
		return Decision{Verdict: VerdictAdmit}
	}
	if req.Role.Privileged() {
		return Decision{Verdict: VerdictAdmit}
	}

	if m.Status.Terminal() {
		return Decision{Verdict: VerdictDeny, Reason: ReasonMeetingClosed}
	}

	if occupancy >= m.Capacity {
		return Decision{Verdict: VerdictDeny, Reason: ReasonMeetingFull}
	}

	invited := m.Access.IsInvited(req.UserID)
	if !invited && !m.Access.AllowUninvitedJoin {
		return Decision{Verdict: VerdictDeny, Reason: ReasonNotInvited}
	}

	return Decision{Verdict: evalBypass(m, req, invited)}
}

// evalBypass 按 lobby_bypass_type 决定 admit 还是 wait
func evalBypass(m *Meeting, req Requester, invited bool) Verdict {
	switch m.Access.LobbyBypassType {
	case BypassEveryone:
		return VerdictAdmit
	case BypassInvited:
		if invited {
			return VerdictAdmit
		}
		return VerdictWait
	case BypassOrganization:
		if req.FoundationID != "" && req.FoundationID == m.FoundationID {
			return VerdictAdmit
		}
		return VerdictWait
	case BypassNobody:
		return VerdictWait
	default:
		// Unknown bypass values fall back to the waiting room rather than
		// silently admitting.
		return VerdictWait
	}
}
