package authz

import "gateway-core/internal/domain"

// systemRoles define os papéis estáticos do gateway, listados com os
// papéis herdados antes dos que os herdam. As permissões com templates
// ${user.*} restringem o acesso à própria organização ou ao próprio
// perfil do chamador.
func systemRoles() []*domain.Role {
	return []*domain.Role{
		{
			ID:           "user",
			Name:         "User",
			IsSystemRole: true,
			Permissions: []domain.Permission{
				{Resource: "profile", Action: "*", Conditions: []domain.Condition{
					{Type: "custom", Field: "user_id", Operator: domain.OpEquals, Value: "${user.id}"},
				}},
				{Resource: "events", Action: "read"},
				{Resource: "tickets", Action: "purchase"},
				{Resource: "tickets", Action: "read", Conditions: []domain.Condition{
					{Type: "custom", Field: "owner_id", Operator: domain.OpEquals, Value: "${user.id}"},
				}},
			},
		},
		{
			ID:           "moderator",
			Name:         "Moderator",
			IsSystemRole: true,
			Inherits:     []string{"user"},
			Permissions: []domain.Permission{
				{Resource: "events", Action: "moderate"},
				{Resource: "comments", Action: "delete"},
				{Resource: "reports", Action: "read"},
			},
		},
		{
			ID:           "admin",
			Name:         "Administrator",
			IsSystemRole: true,
			Inherits:     []string{"moderator"},
			Permissions: []domain.Permission{
				{Resource: "users", Action: "*", Conditions: []domain.Condition{
					{Type: "organization", Operator: domain.OpEquals, Value: "${user.organizationId}"},
				}},
				{Resource: "organizations", Action: "*", Conditions: []domain.Condition{
					{Type: "custom", Field: "organization_id", Operator: domain.OpEquals, Value: "${user.organizationId}"},
				}},
				{Resource: "rate_limits", Action: "read"},
				{Resource: "analytics", Action: "read"},
			},
		},
		{
			ID:           "super_admin",
			Name:         "Super Administrator",
			IsSystemRole: true,
			Permissions: []domain.Permission{
				{Resource: "*", Action: "*"},
			},
		},
		{
			ID:           "api_client",
			Name:         "API Client",
			IsSystemRole: true,
			Permissions: []domain.Permission{
				{Resource: "events", Action: "read"},
				{Resource: "tickets", Action: "read"},
				{Resource: "analytics", Action: "read", Conditions: []domain.Condition{
					{Type: "organization", Operator: domain.OpEquals, Value: "${user.organizationId}"},
				}},
			},
		},
		{
			ID:           "oauth_client",
			Name:         "OAuth Client",
			IsSystemRole: true,
			Permissions: []domain.Permission{
				{Resource: "events", Action: "read"},
				{Resource: "profile", Action: "read", Conditions: []domain.Condition{
					{Type: "custom", Field: "user_id", Operator: domain.OpEquals, Value: "${user.id}"},
				}},
			},
		},
	}
}
