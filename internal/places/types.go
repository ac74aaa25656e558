package places

// Wire types for the Places web service (nearbysearch, textsearch, details).
// Optional numeric fields are pointers so a missing value stays distinguishable
// from zero.

type searchResponse struct {
	HTMLAttributions []string      `json:"html_attributions"`
	Results          []placeResult `json:"results"`
	Status           string        `json:"status"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	NextPageToken    string        `json:"next_page_token,omitempty"`
}

type detailsResponse struct {
	HTMLAttributions []string     `json:"html_attributions"`
	Result           *placeResult `json:"result,omitempty"`
	Status           string       `json:"status"`
	ErrorMessage     string       `json:"error_message,omitempty"`
}

type placeResult struct {
	BusinessStatus           string        `json:"business_status,omitempty"`
	FormattedAddress         string        `json:"formatted_address,omitempty"`
	FormattedPhoneNumber     string        `json:"formatted_phone_number,omitempty"`
	InternationalPhoneNumber string        `json:"international_phone_number,omitempty"`
	Geometry                 *geometry     `json:"geometry,omitempty"`
	Name                     string        `json:"name"`
	OpeningHours             *openingHours `json:"opening_hours,omitempty"`
	Photos                   []photo       `json:"photos,omitempty"`
	PlaceID                  string        `json:"place_id"`
	PriceLevel               *int          `json:"price_level,omitempty"`
	Rating                   *float64      `json:"rating,omitempty"`
	Reviews                  []review      `json:"reviews,omitempty"`
	Types                    []string      `json:"types,omitempty"`
	UserRatingsTotal         *int          `json:"user_ratings_total,omitempty"`
	Vicinity                 string        `json:"vicinity,omitempty"`
	Website                  string        `json:"website,omitempty"`
}

type geometry struct {
	Location *latLng `json:"location,omitempty"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type openingHours struct {
	OpenNow     *bool    `json:"open_now,omitempty"`
	WeekdayText []string `json:"weekday_text,omitempty"`
}

type photo struct {
	Height         int    `json:"height"`
	PhotoReference string `json:"photo_reference"`
	Width          int    `json:"width"`
}

type review struct {
	AuthorName              string `json:"author_name"`
	Rating                  int    `json:"rating"`
	Text                    string `json:"text,omitempty"`
	RelativeTimeDescription string `json:"relative_time_description,omitempty"`
	Time                    int64  `json:"time,omitempty"`
}
