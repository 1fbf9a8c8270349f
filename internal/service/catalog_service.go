package service

import (
	"context"

	"marketplace/internal/models"
	"marketplace/internal/util"
)

// CatalogService serves product reads
type CatalogService struct {
	products ProductReader
}

func NewCatalogService(products ProductReader) *CatalogService {
	return &CatalogService{products: products}
}

// ListProducts returns every product without its reviews
func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	return s.products.GetProducts(ctx)
}

// GetProduct returns a product with its reviews in submission order
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	return s.products.GetProductByID(ctx, id)
}
