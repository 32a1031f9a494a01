package models

// PolicyResponse reports the current ACL and selection policy.
type PolicyResponse struct {
	ACLMode         string `json:"acl_mode"`
	SelectionPolicy string `json:"selection_policy"`
}

// SetPolicyRequest updates the ACL mode and/or selection policy.
// Empty fields are left unchanged.
type SetPolicyRequest struct {
	ACLMode         string `json:"acl_mode,omitempty" binding:"omitempty,oneof=allow_all deny_all"`
	SelectionPolicy string `json:"selection_policy,omitempty" binding:"omitempty,oneof=round_robin weighted closest hash"`
}
