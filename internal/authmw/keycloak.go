package authmw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"

	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/utils"
)

// AdminRealmRole is the realm or client role that maps to models.RoleAdmin.
const AdminRealmRole = "admin"

// UserResolver maps a verified external identity onto a local user row,
// creating it on first sight.
type UserResolver interface {
	ResolveExternal(ctx context.Context, email, name string, role models.Role) (*models.User, error)
}

type KeycloakAuth struct {
	Issuer   string // e.g. http://localhost:8080/realms/teamcore
	Audience string
	ClientID string // for client roles under resource_access[ClientID].roles

	JWKS   *keyfunc.JWKS
	Leeway time.Duration
	Users  UserResolver
}

// Build once at startup (don't fetch JWKS on every request)
func NewKeycloakAuth(jwksURL, issuer, audience, clientID string, users UserResolver) (*KeycloakAuth, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:  time.Hour,
		RefreshRateLimit: time.Minute * 5,
		RefreshTimeout:   time.Second * 10,
	})
	if err != nil {
		return nil, err
	}

	return &KeycloakAuth{
		Issuer:   issuer,
		Audience: audience,
		ClientID: clientID,
		JWKS:     jwks,
		Leeway:   30 * time.Second,
		Users:    users,
	}, nil
}

type KCClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`

	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`

	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

func (a *KeycloakAuth) Authenticate(ctx context.Context, tokenStr string) (Identity, error) {
	claims := &KCClaims{}
	opts := []jwt.ParserOption{
		jwt.WithIssuer(a.Issuer),
		jwt.WithLeeway(a.Leeway),
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}
	if _, err := jwt.ParseWithClaims(tokenStr, claims, a.JWKS.Keyfunc, opts...); err != nil {
		return Identity{}, err
	}
	if claims.Email == "" {
		return Identity{}, errors.New("token carries no email")
	}

	role := roleFromClaims(claims, a.ClientID)
	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}

	u, err := a.Users.ResolveExternal(ctx, claims.Email, name, role)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve %s: %w", claims.Email, err)
	}

	return Identity{UserID: u.ID, Email: u.Email, Role: role}, nil
}

func collectRoles(claims *KCClaims, clientID string) []string {
	out := make([]string, 0, 16)

	// realm roles
	out = append(out, claims.RealmAccess.Roles...)

	// client roles (resource_access)
	if clientID != "" && claims.ResourceAccess != nil {
		if ra, ok := claims.ResourceAccess[clientID]; ok {
			out = append(out, ra.Roles...)
		}
	}

	return utils.Uniq(utils.Filter(out, func(r string) bool { return r != "" }))
}

func roleFromClaims(claims *KCClaims, clientID string) models.Role {
	roles := utils.Map(collectRoles(claims, clientID), strings.ToLower)
	if hasAnyRole(roles, AdminRealmRole) {
		return models.RoleAdmin
	}
	return models.RoleMember
}

// Provisioner creates invited users in the Keycloak realm through a service
// account client.
type Provisioner struct {
	Client       *gocloak.GoCloak
	Realm        string
	MemberGroup  string
	clientID     string
	clientSecret string
}

func NewProvisioner(baseURL, realm, clientID, clientSecret, memberGroup string) (*Provisioner, error) {
	p := &Provisioner{
		Client:       gocloak.NewClient("http://" + baseURL),
		Realm:        realm,
		MemberGroup:  memberGroup,
		clientID:     clientID,
		clientSecret: clientSecret,
	}

	if err := p.selfTest(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provisioner) selfTest() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := p.loginAdmin(ctx)
	if err != nil {
		return fmt.Errorf("keycloak auth failed: %w", err)
	}

	// Minimal permission check
	_, err = p.Client.GetRealm(ctx, token.AccessToken, p.Realm)
	if err != nil {
		return fmt.Errorf("keycloak permission check failed: %w", err)
	}

	return nil
}

func (p *Provisioner) loginAdmin(ctx context.Context) (*gocloak.JWT, error) {
	return p.Client.LoginClient(
		ctx,
		p.clientID,
		p.clientSecret,
		p.Realm,
	)
}

// Provision creates the realm user with a temporary password so Keycloak
// forces a reset on first login, then adds it to the member group if set.
func (p *Provisioner) Provision(ctx context.Context, email, name, tempPassword string) error {
	token, err := p.loginAdmin(ctx)
	if err != nil {
		return err
	}

	user := gocloak.User{
		Username:  gocloak.StringP(email),
		Email:     gocloak.StringP(email),
		Enabled:   gocloak.BoolP(true),
		FirstName: gocloak.StringP(name),
		Credentials: &[]gocloak.CredentialRepresentation{
			{
				Type:      gocloak.StringP("password"),
				Value:     gocloak.StringP(tempPassword),
				Temporary: gocloak.BoolP(true),
			},
		},
	}

	userID, err := p.Client.CreateUser(ctx, token.AccessToken, p.Realm, user)
	if err != nil {
		return fmt.Errorf("create realm user: %w", err)
	}

	if p.MemberGroup == "" {
		return nil
	}
	return p.addUserToGroup(ctx, token.AccessToken, userID, p.MemberGroup)
}

func (p *Provisioner) addUserToGroup(ctx context.Context, token, userID, groupName string) error {
	groups, err := p.Client.GetGroups(ctx, token, p.Realm, gocloak.GetGroupsParams{
		Search: gocloak.StringP(groupName),
	})
	if err != nil {
		return err
	}

	var groupID string
	for _, g := range groups {
		if g.Name != nil && *g.Name == groupName {
			groupID = *g.ID
			break
		}
	}

	if groupID == "" {
		return fmt.Errorf("group not found: %s", groupName)
	}

	return p.Client.AddUserToGroup(ctx, token, p.Realm, userID, groupID)
}
