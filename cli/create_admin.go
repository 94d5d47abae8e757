package cli

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evalgo/flowcollab/auth"
	"github.com/evalgo/flowcollab/common"
	"github.com/evalgo/flowcollab/config"
	"github.com/evalgo/flowcollab/db"
)

var (
	createAdminUsername string
	createAdminPassword string
	createAdminEmail    string
	createAdminName     string
	createAdminRoles    string
)

// createAdminCmd bootstraps the first account a fresh deployment needs:
// an admin user holding the "admin" scope the flow-mutation routes
// require. Intended to be run once against a freshly provisioned
// document store, not as part of normal request traffic.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "create a user account directly in the document store",
	Run:   runCreateAdmin,
}

func init() {
	createAdminCmd.Flags().StringVar(&createAdminUsername, "username", "", "account username (required)")
	createAdminCmd.Flags().StringVar(&createAdminPassword, "password", "", "account password (required)")
	createAdminCmd.Flags().StringVar(&createAdminEmail, "email", "", "account email")
	createAdminCmd.Flags().StringVar(&createAdminName, "name", "", "display name")
	createAdminCmd.Flags().StringVar(&createAdminRoles, "roles", auth.RoleAdmin, "comma-separated roles")
	createAdminCmd.MarkFlagRequired("username")
	createAdminCmd.MarkFlagRequired("password")

	RootCmd.AddCommand(createAdminCmd)
}

func runCreateAdmin(cmd *cobra.Command, args []string) {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	couchDBService, err := db.NewCouchDBService(common.FlowConfig{
		CouchDBURL:   settings.DocStoreURL,
		DatabaseName: settings.DocStoreDatabase,
	})
	if err != nil {
		log.Fatalf("failed to connect to document store: %v", err)
	}
	defer couchDBService.Close()

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = settings.TokenSigningKey
	authService := auth.NewAuthService(authCfg, auth.NewCouchDBUserStore(couchDBService))

	var roles []string
	for _, r := range strings.Split(createAdminRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}

	user, err := authService.CreateUser(auth.CreateUserRequest{
		Username: createAdminUsername,
		Password: createAdminPassword,
		Email:    createAdminEmail,
		Name:     createAdminName,
		Roles:    roles,
	})
	if err != nil {
		log.Fatalf("failed to create account: %v", err)
	}

	fmt.Printf("created user %s (id=%s, roles=%v)\n", user.Username, user.ID, user.Roles)
}
