package main

import (
	"context"
	"flag"
	"log"
	"sort"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/store"
	"relaychat/pkg/database"

	"github.com/joho/godotenv"
)

// Creates the message store indexes and optionally seeds group memberships:
//
//	go run ./scripts -groups "g1:u1,u2,u3;g2:u4,u5"
func main() {
	groups := flag.String("groups", "", `group memberships to seed, "g1:u1,u2;g2:u3"`)
	flag.Parse()

	log.Println("🚀 Starting relaychat database migration...")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using environment variables")
	}

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database.MongoDB)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer db.Disconnect(context.Background())

	if err := db.EnsureIndexes(ctx); err != nil {
		log.Fatalf("❌ Failed to create indexes: %v", err)
	}
	log.Printf("✅ Indexes ready on %s and %s", database.MessagesCollection, database.GroupMembersCollection)

	if err := seedGroups(ctx, store.NewMongoStore(db, cfg.Database.MongoDB.OperationTimeout), *groups); err != nil {
		log.Fatalf("❌ Failed to seed groups: %v", err)
	}

	log.Println("✅ Migration completed successfully!")
}

func seedGroups(ctx context.Context, st *store.MongoStore, seed string) error {
	memberships, err := store.ParseGroupSeed(seed)
	if err != nil {
		return err
	}

	groupIDs := make([]string, 0, len(memberships))
	for groupID := range memberships {
		groupIDs = append(groupIDs, groupID)
	}
	sort.Strings(groupIDs)

	for _, groupID := range groupIDs {
		for _, userID := range memberships[groupID] {
			if err := st.AddGroupMember(ctx, groupID, userID); err != nil {
				return err
			}
		}
		log.Printf("👥 Group %s: %d members", groupID, len(memberships[groupID]))
	}
	return nil
}
