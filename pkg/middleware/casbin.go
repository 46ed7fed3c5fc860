package middleware

import (
	"OpportunityFinder/internal/auth"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/logger"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// rbacPolicies maps access roles onto API paths. Admins inherit every member rule.
var rbacPolicies = [][]string{
	{auth.AccessMember, "/api/me", "^(GET|PUT)$"},
	{auth.AccessMember, "/api/employees*", "^GET$"},
	{auth.AccessMember, "/api/opportunities*", "^(GET|POST|PUT)$"},
	{auth.AccessMember, "/api/notifications*", "^(GET|POST|DELETE)$"},
	{auth.AccessAdmin, "/api/admin/*", "^(GET|POST)$"},
}

// NewEnforcer builds the casbin enforcer from the in-code model and policy.
func NewEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for _, p := range rbacPolicies {
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, err
		}
	}
	if _, err := enforcer.AddGroupingPolicy(auth.AccessAdmin, auth.AccessMember); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// CasbinMiddleware enforces RBAC on (access role, request path, method). It must run after JWTMiddleware.
func CasbinMiddleware(enforcer *casbin.Enforcer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := auth.CurrentIdentity(c)
			if !ok {
				return apperrors.NewUnauthorizedError("Missing user claims")
			}

			obj := c.Request().URL.Path
			act := c.Request().Method
			allowed, err := enforcer.Enforce(identity.Access, obj, act)
			if err != nil {
				return apperrors.InternalError(err)
			}
			if !allowed {
				logger.L().Info("RBAC denied request",
					zap.String("access", identity.Access),
					zap.String("path", obj),
					zap.String("method", act),
				)
				return apperrors.NewForbiddenError("Forbidden: insufficient permissions")
			}
			return next(c)
		}
	}
}
