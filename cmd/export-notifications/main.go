package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"roadwatch-reports/internal/config"
	"roadwatch-reports/internal/export"
	"roadwatch-reports/internal/logger"
	"roadwatch-reports/internal/models"
	"roadwatch-reports/internal/repository"
)

// 通知历史导出工具：一次性拉取指定用户的全部通知记录并写出 Excel 文件
func main() {
	userID := flag.String("user", "", "user id to export notification history for")
	outPath := flag.String("out", "notification_history.xlsx", "output file path")
	pageSize := flag.Int("page-size", 500, "records per page when fetching")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, "console", "export-notifications")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	if *userID == "" {
		*userID = os.Getenv("USER_ID")
	}
	if *userID == "" {
		log.Fatal("user id is required (-user flag or USER_ID env)")
	}

	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo := repository.NewNotificationsRepository(db, log)

	records, err := fetchAll(ctx, repo, *userID, *pageSize)
	if err != nil {
		log.Fatal("Failed to fetch notification history", zap.Error(err))
	}

	data, err := export.GenerateNotificationHistoryExport(records)
	if err != nil {
		log.Fatal("Failed to generate export", zap.Error(err))
	}

	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		log.Fatal("Failed to write output file", zap.Error(err))
	}

	log.Info("Notification history exported",
		zap.String("user_id", *userID),
		zap.Int("record_count", len(records)),
		zap.String("output", *outPath),
	)
}

// fetchAll 分页拉取全部通知记录
func fetchAll(ctx context.Context, repo *repository.NotificationsRepository, userID string, pageSize int) ([]*models.NotificationRecord, error) {
	all := []*models.NotificationRecord{}
	for page := 1; ; page++ {
		records, total, err := repo.ListByUser(ctx, userID, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
		if len(all) >= total || len(records) == 0 {
			break
		}
	}
	return all, nil
}
