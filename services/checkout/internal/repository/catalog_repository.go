package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// CatalogRepository — чтение товаров, промокодов и покупателей.
type CatalogRepository interface {
	GetProducts(ctx context.Context, ids []uint64) (map[uint64]domain.Product, error)
	GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error)
	GetUser(ctx context.Context, id uint64) (*domain.User, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository создаёт репозиторий каталога.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetProducts(ctx context.Context, ids []uint64) (map[uint64]domain.Product, error) {
	var models []ProductModel
	if err := r.db.WithContext(ctx).
		Preload("Variants").
		Where("id IN ?", ids).
		Find(&models).Error; err != nil {
		return nil, err
	}

	products := make(map[uint64]domain.Product, len(models))
	for i := range models {
		products[models[i].ID] = models[i].toDomain()
	}
	return products, nil
}

func (r *catalogRepository) GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var model PromoCodeModel
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidPromoCode
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// GetUser возвращает nil без ошибки, если пользователя нет: счёт тогда строится по адресу.
func (r *catalogRepository) GetUser(ctx context.Context, id uint64) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.User{ID: model.ID, Name: model.Name, Email: model.Email, Phone: model.Phone}, nil
}
