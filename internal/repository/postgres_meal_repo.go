package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// PostgresMealRepo はPostgreSQLを使用した食事リポジトリ。
// 食事の作成・更新は別サブシステムの責務で、ここでは読み取りのみを提供する。
type PostgresMealRepo struct {
	db *sql.DB
}

// NewPostgresMealRepo はPostgresMealRepoを生成する。
func NewPostgresMealRepo(db *sql.DB) *PostgresMealRepo {
	return &PostgresMealRepo{db: db}
}

// FindByID は指定IDの食事を材料・調理手順付きで取得する。
// 見つからない場合はnilを返す。
func (r *PostgresMealRepo) FindByID(ctx context.Context, id string) (*model.Meal, error) {
	meal := &model.Meal{}
	var ingredientsJSON, stepsJSON []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, image, ingredients, preparation_steps, created_at, updated_at
		 FROM meals WHERE id = $1`,
		id,
	).Scan(&meal.ID, &meal.Name, &meal.Image, &ingredientsJSON, &stepsJSON, &meal.CreatedAt, &meal.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("食事の取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(ingredientsJSON, &meal.Ingredients); err != nil {
		return nil, fmt.Errorf("材料のデコードに失敗しました: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &meal.PreparationSteps); err != nil {
		return nil, fmt.Errorf("調理手順のデコードに失敗しました: %w", err)
	}

	return meal, nil
}

// compile-time interface check
var _ MealRepository = (*PostgresMealRepo)(nil)
