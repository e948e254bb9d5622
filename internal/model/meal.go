// Package model はドメインモデルを定義する。
package model

import "time"

// Meal は食事を表す。リマインダーエンジンからは読み取り専用で、
// 通知コンテンツの生成に必要なフィールドのみを参照する。
type Meal struct {
	ID               string
	Name             string
	Image            string
	Ingredients      []Ingredient
	PreparationSteps []PrepStep
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Ingredient は食事の材料を表す。
type Ingredient struct {
	Name string `json:"name"`
}

// PrepStep は食事の調理手順の1ステップを表す。
// Durationは自由記述（例: "10 min"）で、未設定の場合は表示時にN/A扱いとする。
type PrepStep struct {
	StepNumber  int    `json:"step_number"`
	Instruction string `json:"instruction"`
	Duration    string `json:"duration,omitempty"`
}

// HasPreparationSteps は有効な調理手順が1つ以上あるかどうかを返す。
// 手順が構造的に欠落・空の場合は通知本文で「手順なし」と明示するために使う。
func (m *Meal) HasPreparationSteps() bool {
	return m != nil && len(m.PreparationSteps) > 0
}

// IngredientNames は材料名のスライスを返す。
func (m *Meal) IngredientNames() []string {
	names := make([]string, len(m.Ingredients))
	for i, ing := range m.Ingredients {
		names[i] = ing.Name
	}
	return names
}
