package permissions

import "github.com/iamwavecut/linkguard/internal/gateway"

// IsOperator reports whether userID is the configured bot operator. An unset operator matches nobody.
func IsOperator(operatorID, userID int64) bool {
	return operatorID != 0 && operatorID == userID
}

// IsManager reports whether a chat member may change moderation settings of that chat.
func IsManager(status gateway.MemberStatus) bool {
	return status == gateway.StatusOwner || status == gateway.StatusAdmin
}

// CanConfigure lets the operator manage every chat in addition to the chat's own managers.
func CanConfigure(operatorID, userID int64, status gateway.MemberStatus) bool {
	return IsOperator(operatorID, userID) || IsManager(status)
}
