package dto

type IdentifyURLRequest struct {
	ImageURL      string `json:"image_url" binding:"required,url"`
	FavoriteGroup string `json:"favorite_group,omitempty"`
	FavoriteName  string `json:"favorite_name,omitempty"`
}

type ChatRequest struct {
	Question string `json:"question" binding:"required"`
}

type ChatResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
