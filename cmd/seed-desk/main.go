package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/storage"
	sqlstore "helpdesk/backend/internal/storage/sql"
)

// seed-desk 注册一个客服组：集成凭据、Webhook 订阅与客服名单。
func main() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: seed-desk <name> <email> <subscription-id> <refresh-token> <agent-email>[,<agent-email>...]")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  HELPDESK_DATABASE_TYPE / HELPDESK_DATABASE_DSN  target database (required)")
		fmt.Println("  HELPDESK_PROVIDER_NAME                          provider identifier")
		fmt.Println("  HELPDESK_CLIENT_ID / HELPDESK_CLIENT_SECRET     OAuth client credentials")
		os.Exit(1)
	}

	name := os.Args[1]
	email := strings.ToLower(os.Args[2])
	subscriptionID := os.Args[3]
	refreshToken := os.Args[4]
	agentEmails := strings.Split(os.Args[5], ",")

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("seed-desk requires a database (set HELPDESK_DATABASE_TYPE and HELPDESK_DATABASE_DSN)")
		os.Exit(1)
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		fmt.Printf("Failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	desk := &domain.Desk{
		ID:             uuid.NewString(),
		Name:           name,
		Email:          email,
		Provider:       cfg.Provider.Name,
		SubscriptionID: subscriptionID,
	}
	if err := store.SaveDesk(desk); err != nil {
		fmt.Printf("Failed to save desk: %v\n", err)
		os.Exit(1)
	}

	credential := &domain.Credential{
		DeskID:       desk.ID,
		Provider:     cfg.Provider.Name,
		ClientID:     os.Getenv("HELPDESK_CLIENT_ID"),
		ClientSecret: os.Getenv("HELPDESK_CLIENT_SECRET"),
		RefreshToken: refreshToken,
	}
	if err := store.SaveCredential(credential); err != nil {
		fmt.Printf("Failed to save credential: %v\n", err)
		os.Exit(1)
	}

	roster, err := registerAgents(store, desk.ID, agentEmails)
	if err != nil {
		fmt.Printf("Failed to save agents: %v\n", err)
		os.Exit(1)
	}

	// 预建分配游标，首个新会话从名单第一位开始
	if err := store.SaveCursor(&domain.AssignmentCursor{DeskID: desk.ID, Roster: roster}); err != nil {
		fmt.Printf("Failed to save assignment cursor: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Desk registered successfully:")
	fmt.Printf("  ID:             %s\n", desk.ID)
	fmt.Printf("  Name:           %s\n", desk.Name)
	fmt.Printf("  Email:          %s\n", desk.Email)
	fmt.Printf("  Provider:       %s\n", desk.Provider)
	fmt.Printf("  SubscriptionID: %s\n", desk.SubscriptionID)
	fmt.Printf("  Agents:         %d\n", len(roster))
}

// registerAgents 逐个注册客服并返回分配名单。
// 名单按客服 ID 升序，与运行时懒初始化游标的轮转次序一致。
func registerAgents(agents storage.AgentRepository, deskID string, emails []string) ([]string, error) {
	roster := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		agent := &domain.Agent{
			ID:          uuid.NewString(),
			DeskID:      deskID,
			Email:       email,
			DisplayName: strings.SplitN(email, "@", 2)[0],
			IsActive:    true,
		}
		if err := agents.SaveAgent(agent); err != nil {
			return nil, fmt.Errorf("save agent %s: %w", email, err)
		}
		roster = append(roster, agent.ID)
		fmt.Printf("Agent registered: %s (%s)\n", email, agent.ID)
	}
	sort.Strings(roster)
	return roster, nil
}
