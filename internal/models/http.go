package models

type RegisterReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRes struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshRes struct {
	AccessToken string `json:"access_token"`
}

type RevokeReq struct {
	RefreshToken string `json:"refresh_token"`
}

type MeRes struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type ErrorRes struct {
	Error string `json:"error"`
}
