package handlers

import (
	"net/http"

	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// Product is a catalog entry
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"` // minor units
	Currency string `json:"currency"`
}

// ProductsResponse wraps the catalog
type ProductsResponse struct {
	Products []Product `json:"products"`
}

// ProductHandler serves a static catalog. It exists so the products-get
// rate-limit category guards a real read endpoint.
type ProductHandler struct {
	catalog []Product
}

func NewProductHandler(catalog []Product) *ProductHandler {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &ProductHandler{catalog: catalog}
}

// DefaultCatalog returns the placeholder catalog
func DefaultCatalog() []Product {
	return []Product{
		{ID: "prod_001", Name: "Canvas Tote", Price: 2500, Currency: "USD"},
		{ID: "prod_002", Name: "Enamel Mug", Price: 1800, Currency: "USD"},
		{ID: "prod_003", Name: "Wool Beanie", Price: 3200, Currency: "USD"},
	}
}

// List handles GET /products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, ProductsResponse{Products: h.catalog})
}
